// Package xmlshape decodes XML text into a generic tagged tree that keeps
// only element names, text payloads, and whether a tag repeated. It is the
// shape the record normalizer reasons about: attributes, namespaces,
// comments, and processing instructions are dropped.
package xmlshape

// Kind tags a Node.
type Kind uint8

const (
	// KindLeaf is an element with no child elements and non-blank text.
	KindLeaf Kind = iota + 1
	// KindElement is an element with child elements, or an empty element.
	KindElement
	// KindList holds every occurrence of a tag that repeated under one parent.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindElement:
		return "element"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Field is one named child of an element. Fields keep first-appearance
// order.
type Field struct {
	Name  string
	Value *Node
}

// Node is a decoded XML value.
type Node struct {
	Kind Kind
	// Text is the trimmed text of a leaf, or the direct (mixed-content) text
	// of an element.
	Text   string
	Fields []Field
	Items  []*Node
}

// Leaf returns a text node.
func Leaf(text string) *Node {
	return &Node{Kind: KindLeaf, Text: text}
}

// Element returns a structure node with the given fields.
func Element(fields ...Field) *Node {
	return &Node{Kind: KindElement, Fields: fields}
}

// List returns a node holding repeated occurrences of one tag.
func List(items ...*Node) *Node {
	return &Node{Kind: KindList, Items: items}
}

// F is shorthand for building a Field.
func F(name string, value *Node) Field {
	return Field{Name: name, Value: value}
}

// HasText reports whether n carries a direct, non-empty text payload.
func (n *Node) HasText() bool {
	return n != nil && (n.Kind == KindLeaf || n.Kind == KindElement) && n.Text != ""
}

// IsEmpty reports whether n is an element with neither text nor children,
// e.g. <description></description>.
func (n *Node) IsEmpty() bool {
	return n != nil && n.Kind == KindElement && n.Text == "" && len(n.Fields) == 0
}

// Field returns the value of the named child.
func (n *Node) Field(name string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the child names in document order.
func (n *Node) Names() []string {
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		names = append(names, f.Name)
	}
	return names
}
