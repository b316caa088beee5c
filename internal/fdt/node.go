package fdt

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Property is a named property value as stored in the blob.
type Property struct {
	Name  string
	Value []byte
}

// U32s decodes the value as big-endian cells. A trailing partial cell is
// dropped.
func (p Property) U32s() []uint32 {
	out := make([]uint32, len(p.Value)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(p.Value[4*i:])
	}
	return out
}

// Strings decodes the value as a list of NUL terminated strings.
func (p Property) Strings() []string {
	s := strings.TrimSuffix(string(p.Value), "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}

func (p Property) printable() bool {
	if len(p.Value) == 0 || p.Value[len(p.Value)-1] != 0 || p.Value[0] == 0 {
		return false
	}
	for i, c := range p.Value {
		if c == 0 {
			if i > 0 && p.Value[i-1] == 0 {
				return false
			}
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// Format renders the value in device tree source syntax.
func (p Property) Format() string {
	switch {
	case len(p.Value) == 0:
		return ""
	case p.printable():
		quoted := make([]string, 0, 1)
		for _, s := range p.Strings() {
			quoted = append(quoted, fmt.Sprintf("%q", s))
		}
		return strings.Join(quoted, ", ")
	case len(p.Value)%4 == 0:
		cells := make([]string, 0, len(p.Value)/4)
		for _, c := range p.U32s() {
			cells = append(cells, fmt.Sprintf("%#x", c))
		}
		return "<" + strings.Join(cells, " ") + ">"
	}
	b := make([]string, len(p.Value))
	for i, c := range p.Value {
		b[i] = fmt.Sprintf("%02x", c)
	}
	return "[" + strings.Join(b, " ") + "]"
}

// Node is a device tree node.
type Node struct {
	Name       string
	Properties []Property
	Children   []*Node
}

// Property returns the named property.
func (n *Node) Property(name string) (Property, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup resolves an absolute path such as "/cpus/cpu@0".
func (n *Node) Lookup(path string) *Node {
	cur := n
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		if cur = cur.Child(part); cur == nil {
			return nil
		}
	}
	return cur
}

// Dump writes the tree rooted at n in device tree source syntax.
func (n *Node) Dump(w io.Writer) error {
	return n.dump(w, 0)
}

func (n *Node) dump(w io.Writer, depth int) error {
	indent := strings.Repeat("\t", depth)
	name := n.Name
	if depth == 0 && name == "" {
		name = "/"
	}
	if _, err := fmt.Fprintf(w, "%s%s {\n", indent, name); err != nil {
		return err
	}
	for _, p := range n.Properties {
		var err error
		if v := p.Format(); v != "" {
			_, err = fmt.Fprintf(w, "%s\t%s = %s;\n", indent, p.Name, v)
		} else {
			_, err = fmt.Fprintf(w, "%s\t%s;\n", indent, p.Name)
		}
		if err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := c.dump(w, depth+1); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s};\n", indent)
	return err
}
