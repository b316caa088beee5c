package fdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every Parse error.
var ErrInvalid = errors.New("fdt: invalid blob")

// Tree is a parsed device tree.
type Tree struct {
	Root    *Node
	Version uint32
	BootCPU uint32
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// Parse decodes a flattened device tree blob.
func Parse(blob []byte) (*Tree, error) {
	be := binary.BigEndian
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalid, len(blob))
	}
	if magic := be.Uint32(blob); magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrInvalid, magic)
	}
	total := be.Uint32(blob[4:])
	if total > uint32(len(blob)) || total < headerSize {
		return nil, fmt.Errorf("%w: totalsize %d with %d bytes", ErrInvalid, total, len(blob))
	}
	blob = blob[:total]

	structOff, stringsOff := be.Uint32(blob[8:]), be.Uint32(blob[12:])
	stringsSize, structSize := be.Uint32(blob[32:]), be.Uint32(blob[36:])
	if uint64(structOff)+uint64(structSize) > uint64(total) || uint64(stringsOff)+uint64(stringsSize) > uint64(total) {
		return nil, fmt.Errorf("%w: blocks exceed totalsize", ErrInvalid)
	}
	structs := blob[structOff : structOff+structSize]
	strs := blob[stringsOff : stringsOff+stringsSize]

	t := &Tree{Version: be.Uint32(blob[20:]), BootCPU: be.Uint32(blob[28:])}

	var stack []*Node
	for off := uint32(0); ; {
		if off+4 > uint32(len(structs)) {
			return nil, fmt.Errorf("%w: structure block ends without FDT_END", ErrInvalid)
		}
		tok := be.Uint32(structs[off:])
		off += 4

		switch tok {
		case TokenBeginNode:
			end := bytes.IndexByte(structs[off:], 0)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated node name at %d", ErrInvalid, off)
			}
			n := &Node{Name: string(structs[off : off+uint32(end)])}
			off += align4(uint32(end) + 1)
			if len(stack) == 0 {
				if t.Root != nil {
					return nil, fmt.Errorf("%w: second root node", ErrInvalid)
				}
				t.Root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)

		case TokenEndNode:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unbalanced FDT_END_NODE at %d", ErrInvalid, off-4)
			}
			stack = stack[:len(stack)-1]

		case TokenProp:
			if len(stack) == 0 || off+8 > uint32(len(structs)) {
				return nil, fmt.Errorf("%w: stray property at %d", ErrInvalid, off-4)
			}
			size, nameOff := be.Uint32(structs[off:]), be.Uint32(structs[off+4:])
			off += 8
			if uint64(off)+uint64(size) > uint64(len(structs)) || nameOff >= uint32(len(strs)) {
				return nil, fmt.Errorf("%w: property at %d out of bounds", ErrInvalid, off-12)
			}
			end := bytes.IndexByte(strs[nameOff:], 0)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated property name", ErrInvalid)
			}
			n := stack[len(stack)-1]
			n.Properties = append(n.Properties, Property{
				Name:  string(strs[nameOff : nameOff+uint32(end)]),
				Value: structs[off : off+size],
			})
			off += align4(size)

		case TokenNop:

		case TokenEnd:
			if len(stack) != 0 || t.Root == nil {
				return nil, fmt.Errorf("%w: FDT_END inside a node", ErrInvalid)
			}
			return t, nil

		default:
			return nil, fmt.Errorf("%w: unexpected token %#x at %d", ErrInvalid, tok, off-4)
		}
	}
}
