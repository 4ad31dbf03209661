package record

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/xmlshape"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
)

const (
	manifestField      = "files"
	manifestEntryField = "file"
	manifestKeyField   = "name"
)

// MalformedShapeError reports a value the normalizer cannot interpret.
type MalformedShapeError struct {
	Field  string
	Reason string
}

func (e *MalformedShapeError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Is matches apperrors.ErrMalformedShape.
func (e *MalformedShapeError) Is(target error) bool {
	return target == apperrors.ErrMalformedShape
}

func malformed(field, format string, args ...any) error {
	return &MalformedShapeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Result is the outcome of Normalize: either a flat record or a file
// manifest.
type Result struct {
	record   Record
	manifest Manifest
}

// IsManifest reports whether the document was a file manifest.
func (r Result) IsManifest() bool {
	return r.manifest != nil
}

// Manifest returns the manifest, if the document was one.
func (r Result) Manifest() (Manifest, bool) {
	return r.manifest, r.manifest != nil
}

// Record returns the flat record. For a manifest it returns
// Manifest.Flatten so both shapes can be indexed.
func (r Result) Record() Record {
	if r.manifest != nil {
		return r.manifest.Flatten()
	}
	return r.record
}

// Normalize converts a decoded document into a flat record or, for the
// <files><file>…</file></files> shape, a manifest keyed by entry name.
//
// A single top-level structure is unwrapped once. A field with a direct text
// payload becomes a single trimmed string; any other field becomes the list
// of its entries' texts in document order, skipping empty elements. Fields
// that end up with no values are omitted.
func Normalize(tree *xmlshape.Node) (Result, error) {
	if tree == nil {
		return Result{}, malformed("", "nil document")
	}
	if tree.Kind != xmlshape.KindElement {
		return Result{}, malformed("", "document must be a structure, got %s", tree.Kind)
	}
	if file, ok := manifestEntries(tree); ok {
		m, err := normalizeManifest(file)
		return Result{manifest: m}, err
	}
	body := unwrap(tree)
	if file, ok := manifestEntries(body); ok {
		m, err := normalizeManifest(file)
		return Result{manifest: m}, err
	}
	rec := make(Record, len(body.Fields))
	for _, f := range body.Fields {
		v, ok, err := fieldValue(f.Name, f.Value)
		if err != nil {
			return Result{}, err
		}
		if ok {
			rec[f.Name] = v
		}
	}
	return Result{record: rec}, nil
}

func unwrap(n *xmlshape.Node) *xmlshape.Node {
	if len(n.Fields) == 1 {
		if inner := n.Fields[0].Value; inner != nil && inner.Kind == xmlshape.KindElement {
			return inner
		}
	}
	return n
}

func manifestEntries(n *xmlshape.Node) (*xmlshape.Node, bool) {
	if n == nil || n.Kind != xmlshape.KindElement || len(n.Fields) != 1 || n.Fields[0].Name != manifestField {
		return nil, false
	}
	files := n.Fields[0].Value
	if files == nil || files.Kind != xmlshape.KindElement || files.HasText() ||
		len(files.Fields) != 1 || files.Fields[0].Name != manifestEntryField {
		return nil, false
	}
	return files.Fields[0].Value, true
}

func normalizeManifest(file *xmlshape.Node) (Manifest, error) {
	if file == nil {
		return nil, malformed(manifestEntryField, "nil value")
	}
	var entries []*xmlshape.Node
	switch file.Kind {
	case xmlshape.KindList:
		entries = file.Items
	case xmlshape.KindElement:
		entries = []*xmlshape.Node{file}
	default:
		return nil, malformed(manifestEntryField, "manifest entry must be a structure, got %s", file.Kind)
	}
	m := make(Manifest, len(entries))
	for i, entry := range entries {
		if entry == nil || entry.Kind != xmlshape.KindElement {
			return nil, malformed(manifestEntryField, "entry %d is not a structure", i)
		}
		rec := make(Record, len(entry.Fields))
		for _, f := range entry.Fields {
			v, ok, err := fieldValue(f.Name, f.Value)
			if err != nil {
				return nil, err
			}
			if ok {
				rec[f.Name] = v
			}
		}
		name, ok := rec[manifestKeyField]
		if !ok || name.IsList() {
			return nil, malformed(manifestKeyField, "entry %d has no single %s", i, manifestKeyField)
		}
		m[name.String()] = rec
	}
	return m, nil
}

// fieldValue flattens one field. ok is false when the field has no
// non-empty values and must be omitted.
func fieldValue(field string, v *xmlshape.Node) (Value, bool, error) {
	if v == nil {
		return Value{}, false, malformed(field, "nil value")
	}
	switch v.Kind {
	case xmlshape.KindLeaf, xmlshape.KindElement:
		if v.HasText() {
			// Mixed content keeps the text payload and drops nested elements.
			text := strings.TrimSpace(v.Text)
			if text == "" {
				return Value{}, false, nil
			}
			return Single(text), true, nil
		}
	case xmlshape.KindList:
	default:
		return Value{}, false, malformed(field, "unexpected %s value", v.Kind)
	}
	texts, err := collectTexts(field, v, nil)
	if err != nil {
		return Value{}, false, err
	}
	if len(texts) == 0 {
		return Value{}, false, nil
	}
	return List(texts...), true, nil
}

// collectTexts appends the text payloads under n in document order. A node
// with its own text contributes only that text; empty elements contribute
// nothing.
func collectTexts(field string, n *xmlshape.Node, out []string) ([]string, error) {
	if n == nil {
		return nil, malformed(field, "nil value")
	}
	var err error
	switch n.Kind {
	case xmlshape.KindLeaf:
		if text := strings.TrimSpace(n.Text); text != "" {
			out = append(out, text)
		}
	case xmlshape.KindElement:
		if n.HasText() {
			if text := strings.TrimSpace(n.Text); text != "" {
				out = append(out, text)
			}
			return out, nil
		}
		for _, f := range n.Fields {
			if out, err = collectTexts(field, f.Value, out); err != nil {
				return nil, err
			}
		}
	case xmlshape.KindList:
		for _, item := range n.Items {
			if out, err = collectTexts(field, item, out); err != nil {
				return nil, err
			}
		}
	default:
		return nil, malformed(field, "unexpected %s value", n.Kind)
	}
	return out, nil
}
