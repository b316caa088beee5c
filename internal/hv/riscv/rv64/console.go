package rv64

import (
	"io"
	"sync"
)

// Console backs the legacy SBI console calls. Output is written through
// immediately; input has to be queued with EnqueueInput or pulled from
// Input, which is read in a background goroutine once Start is called.
type Console struct {
	Output io.Writer
	Input  io.Reader

	mu          sync.Mutex
	inputBuffer []byte
	started     bool
}

// NewConsole creates a console device.
func NewConsole(output io.Writer, input io.Reader) *Console {
	return &Console{
		Output: output,
		Input:  input,
	}
}

// PutChar writes one byte to Output.
func (c *Console) PutChar(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Output != nil {
		c.Output.Write([]byte{b})
	}
}

// GetChar returns the next input byte, or false when none is buffered.
func (c *Console) GetChar() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inputBuffer) == 0 {
		return 0, false
	}
	b := c.inputBuffer[0]
	c.inputBuffer = c.inputBuffer[1:]
	return b, true
}

// EnqueueInput adds input bytes to be read by the guest
func (c *Console) EnqueueInput(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputBuffer = append(c.inputBuffer, data...)
}

// Start copies Input into the input buffer until it is exhausted. It is a
// no-op without an Input or when already started.
func (c *Console) Start() {
	c.mu.Lock()
	if c.Input == nil || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := c.Input.Read(buf)
			if n > 0 {
				c.EnqueueInput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
}
