package transports

import (
	"io"
	"time"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	Closed      bool
	ReadTimeout time.Duration
	Flushed     bool

	// Script queues canned replies, one consumed per write, modeling
	// the request/reply cadence of the DPM86XX protocol. A device that
	// stops answering is a script that runs out.
	Script [][]byte

	// ReadFunc allows custom read behavior for complex tests
	ReadFunc func(p []byte) (int, error)
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	if len(m.Script) > 0 {
		m.ReadData = append(m.ReadData, m.Script[0]...)
		m.Script = m.Script[1:]
	}
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushed = true
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}

// Replies builds a reply script from string frames.
func Replies(frames ...string) [][]byte {
	script := make([][]byte, len(frames))
	for i, f := range frames {
		script[i] = []byte(f)
	}
	return script
}
