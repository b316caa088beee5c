package rv64

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Memory is the RAM of the machine, mapped at Base. Accesses are safe for
// concurrent use by several harts.
type Memory struct {
	Base uint64
	Data []byte

	mu sync.RWMutex
}

// NewMemory creates size bytes of RAM at RAMBase.
func NewMemory(size uint64) *Memory {
	return &Memory{
		Base: RAMBase,
		Data: make([]byte, size),
	}
}

// Size returns the size of RAM.
func (m *Memory) Size() uint64 {
	return uint64(len(m.Data))
}

// Contains reports whether [addr, addr+size) lies in RAM.
func (m *Memory) Contains(addr, size uint64) bool {
	if addr < m.Base {
		return false
	}
	off := addr - m.Base
	return off <= m.Size() && size <= m.Size()-off
}

func (m *Memory) slice(addr, size uint64) ([]byte, error) {
	if !m.Contains(addr, size) {
		return nil, fmt.Errorf("memory access out of bounds: addr=0x%x size=%d", addr, size)
	}
	off := addr - m.Base
	return m.Data[off : off+size], nil
}

// Read64 reads a little-endian doubleword.
func (m *Memory) Read64(addr uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Write64 writes a little-endian doubleword.
func (m *Memory) Write64(addr, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

// LoadBytes copies data into RAM at addr.
func (m *Memory) LoadBytes(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}
