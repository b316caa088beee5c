// Package fdt builds and parses Flattened Device Tree (devicetree blob)
// images.
package fdt

import (
	"bytes"
	"encoding/binary"
)

// Blob layout constants.
const (
	Magic          = 0xd00dfeed
	Version        = 17
	LastCompatible = 16

	TokenBeginNode = 0x00000001
	TokenEndNode   = 0x00000002
	TokenProp      = 0x00000003
	TokenNop       = 0x00000004
	TokenEnd       = 0x00000009

	headerSize    = 40
	memRsvmapSize = 16 // one terminating entry
)

// Builder constructs a Flattened Device Tree blob. Nodes are written in
// order: every BeginNode must be matched by an EndNode before Build.
type Builder struct {
	// BootCPU is the physical ID of the boot hart (boot_cpuid_phys).
	BootCPU uint32

	structure bytes.Buffer
	strings   bytes.Buffer
	stringOff map[string]uint32
}

// NewBuilder creates a new FDT builder.
func NewBuilder() *Builder {
	return &Builder{
		stringOff: make(map[string]uint32),
	}
}

func (b *Builder) putU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.structure.Write(buf[:])
}

// pad aligns the structure block to 4 bytes.
func (b *Builder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}

func (b *Builder) addString(name string) uint32 {
	if off, ok := b.stringOff[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.stringOff[name] = off
	return off
}

// AddProperty adds a property with a raw value.
func (b *Builder) AddProperty(name string, value []byte) {
	b.putU32(TokenProp)
	b.putU32(uint32(len(value)))
	b.putU32(b.addString(name))
	b.structure.Write(value)
	b.pad()
}

// BeginNode starts a new node with the given name.
func (b *Builder) BeginNode(name string) {
	b.putU32(TokenBeginNode)
	b.structure.WriteString(name)
	b.structure.WriteByte(0)
	b.pad()
}

// EndNode ends the current node.
func (b *Builder) EndNode() {
	b.putU32(TokenEndNode)
}

// AddPropertyEmpty adds an empty property.
func (b *Builder) AddPropertyEmpty(name string) {
	b.AddProperty(name, nil)
}

// AddPropertyString adds a string property.
func (b *Builder) AddPropertyString(name, value string) {
	b.AddPropertyStringList(name, []string{value})
}

// AddPropertyStringList adds a string list property.
func (b *Builder) AddPropertyStringList(name string, values []string) {
	var buf bytes.Buffer
	for _, v := range values {
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	b.AddProperty(name, buf.Bytes())
}

// AddPropertyU32 adds a 32-bit unsigned integer property.
func (b *Builder) AddPropertyU32(name string, value uint32) {
	b.AddPropertyU32Array(name, []uint32{value})
}

// AddPropertyU32Array adds an array of 32-bit unsigned integers.
func (b *Builder) AddPropertyU32Array(name string, values []uint32) {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(buf[4*i:], v)
	}
	b.AddProperty(name, buf)
}

// AddPropertyU64Pair adds a pair of 64-bit values (e.g., for reg properties
// with two address and two size cells).
func (b *Builder) AddPropertyU64Pair(name string, addr, size uint64) {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:], addr)
	binary.BigEndian.PutUint64(buf[8:], size)
	b.AddProperty(name, buf[:])
}

// Build generates the final FDT blob. The memory reservation map is left
// empty.
func (b *Builder) Build() []byte {
	b.putU32(TokenEnd)

	structOff := uint32(headerSize + memRsvmapSize)
	structSize := uint32(b.structure.Len())
	stringsOff := structOff + structSize
	stringsSize := uint32(b.strings.Len())
	totalSize := stringsOff + stringsSize

	blob := make([]byte, totalSize)
	header := []uint32{
		Magic,
		totalSize,
		structOff,
		stringsOff,
		headerSize, // off_mem_rsvmap
		Version,
		LastCompatible,
		b.BootCPU,
		stringsSize,
		structSize,
	}
	for i, v := range header {
		binary.BigEndian.PutUint32(blob[4*i:], v)
	}
	copy(blob[structOff:], b.structure.Bytes())
	copy(blob[stringsOff:], b.strings.Bytes())
	return blob
}
