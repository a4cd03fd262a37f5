package stationxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Element is a generic XML tree node. StationXML documents are parsed
// into Element trees so that subtrees can be cloned, filtered and
// re-serialized without modeling the full schema.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Children []*Element
	Text     string
}

// UnmarshalXML decodes an element and its subtree.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.Name = start.Name.Local
	e.Attrs = make([]xml.Attr, 0, len(start.Attr))
	for _, attr := range start.Attr {
		e.Attrs = append(e.Attrs, xml.Attr{
			Name:  xml.Name{Local: attrLocal(attr.Name)},
			Value: attr.Value,
		})
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &Element{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			e.Children = append(e.Children, child)
		case xml.CharData:
			e.Text += string(t)
		case xml.EndElement:
			e.Text = strings.TrimSpace(e.Text)
			return nil
		}
	}
}

// MarshalXML encodes the element and its subtree.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{
		Name: xml.Name{Local: e.Name},
		Attr: e.Attrs,
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, child := range e.Children {
		if err := child.MarshalXML(enc, xml.StartElement{}); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Attr returns the value of the named attribute, or "".
func (e *Element) Attr(name string) string {
	for _, attr := range e.Attrs {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

// Child returns the first child with the given local name, or nil.
func (e *Element) Child(name string) *Element {
	for _, child := range e.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// ChildText returns the text of the first child with the given name.
func (e *Element) ChildText(name string) string {
	if child := e.Child(name); child != nil {
		return child.Text
	}
	return ""
}

// All returns every child with the given local name.
func (e *Element) All(name string) []*Element {
	var matched []*Element
	for _, child := range e.Children {
		if child.Name == name {
			matched = append(matched, child)
		}
	}
	return matched
}

// Float parses the text of the named child as a float64.
func (e *Element) Float(name string) (float64, error) {
	child := e.Child(name)
	if child == nil {
		return 0, fmt.Errorf("missing element %s", name)
	}
	v, err := strconv.ParseFloat(child.Text, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in %s: %w", name, err)
	}
	return v, nil
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() *Element {
	dup := &Element{
		Name:  e.Name,
		Attrs: append([]xml.Attr(nil), e.Attrs...),
		Text:  e.Text,
	}
	for _, child := range e.Children {
		dup.Children = append(dup.Children, child.Clone())
	}
	return dup
}

// Serialize renders the element as XML with the default-namespace
// redundancy removed, so that documents differing only in that nuisance
// serialize identically.
func (e *Element) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := e.MarshalXML(enc, xml.StartElement{}); err != nil {
		return nil, fmt.Errorf("failed to serialize element: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush serializer: %w", err)
	}
	return bytes.ReplaceAll(buf.Bytes(), []byte(` xmlns=""`), nil), nil
}

// attrLocal preserves xmlns prefix declarations, which the xml decoder
// reports under the "xmlns" space.
func attrLocal(name xml.Name) string {
	if name.Space == "xmlns" {
		return "xmlns:" + name.Local
	}
	return name.Local
}
