package xmlshape

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"golang.org/x/net/html/charset"
)

const defaultMaxDepth = 64

// DecodeError reports XML that is not well formed.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decoding xml at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("decoding xml: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches apperrors.ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == apperrors.ErrDecode
}

// Decoder turns XML text into a Node tree. The zero value is ready to use.
type Decoder struct {
	// MaxDepth bounds element nesting; zero means the default of 64.
	MaxDepth int
}

// Decode parses data with a zero-value Decoder.
func Decode(data []byte) (*Node, error) {
	var d Decoder
	return d.Decode(data)
}

type frame struct {
	name     string
	text     strings.Builder
	children []Field
}

// Decode parses data and returns a synthetic document node whose single
// field is the root element.
func (d Decoder) Decode(data []byte) (*Node, error) {
	maxDepth := d.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	dec.CharsetReader = charset.NewReaderLabel

	stack := []*frame{{}}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapSyntax(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) > maxDepth {
				line, _ := dec.InputPos()
				return nil, &DecodeError{Line: line, Err: fmt.Errorf("element nesting exceeds %d", maxDepth)}
			}
			if len(stack) == 1 && len(stack[0].children) > 0 {
				line, _ := dec.InputPos()
				return nil, &DecodeError{Line: line, Err: errors.New("multiple root elements")}
			}
			stack = append(stack, &frame{name: t.Name.Local})
		case xml.EndElement:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, Field{Name: top.name, Value: top.node()})
		case xml.CharData:
			if len(stack) == 1 {
				if len(bytes.TrimSpace(t)) > 0 {
					line, _ := dec.InputPos()
					return nil, &DecodeError{Line: line, Err: errors.New("text outside the root element")}
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)
		}
	}
	if len(stack) != 1 {
		return nil, &DecodeError{Err: io.ErrUnexpectedEOF}
	}
	doc := stack[0]
	if len(doc.children) == 0 {
		return nil, &DecodeError{Err: errors.New("no root element")}
	}
	return &Node{Kind: KindElement, Fields: group(doc.children)}, nil
}

func (f *frame) node() *Node {
	text := strings.TrimSpace(f.text.String())
	if len(f.children) == 0 {
		if text != "" {
			return Leaf(text)
		}
		return Element()
	}
	return &Node{Kind: KindElement, Text: text, Fields: group(f.children)}
}

// group folds repeated tags into one List field at the position of their
// first occurrence.
func group(children []Field) []Field {
	counts := make(map[string]int, len(children))
	for _, c := range children {
		counts[c.Name]++
	}
	fields := make([]Field, 0, len(counts))
	lists := make(map[string]*Node)
	for _, c := range children {
		if counts[c.Name] == 1 {
			fields = append(fields, c)
			continue
		}
		list, seen := lists[c.Name]
		if !seen {
			list = List()
			lists[c.Name] = list
			fields = append(fields, Field{Name: c.Name, Value: list})
		}
		list.Items = append(list.Items, c.Value)
	}
	return fields
}

func wrapSyntax(err error) error {
	var syn *xml.SyntaxError
	if errors.As(err, &syn) {
		return &DecodeError{Line: syn.Line, Err: errors.New(syn.Msg)}
	}
	return &DecodeError{Err: err}
}
