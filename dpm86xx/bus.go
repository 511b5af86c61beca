package dpm86xx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stern-biozoom/dpm86xx-go/transports"
)

// Bus manages communication with power supplies on a shared serial line.
// The DPM86XX talks RS-485 style: up to 99 addressable devices can hang
// off one port, so the bus serializes transactions internally.
type Bus struct {
	transport Transport
	timeout   time.Duration

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 9600, the
	// device's factory setting.
	BaudRate int

	// Timeout for communication operations. Default is 1 second.
	Timeout time.Duration

	// MinCommandGap is the minimum time between commands. The DPM86XX
	// drops frames that arrive back to back. Default is 50ms.
	MinCommandGap time.Duration
}

// NewBus creates a new bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	// Set defaults
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = 50 * time.Millisecond
	}

	// Get or create transport
	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		var err error
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
	}

	return &Bus{
		transport:   transport,
		timeout:     cfg.Timeout,
		minCmdGap:   cfg.MinCommandGap,
		lastCmdTime: time.Now(),
	}, nil
}

// Close closes the bus and releases the transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Read performs one read transaction and returns the raw integer value
// reported by the device for the given function.
func (b *Bus) Read(ctx context.Context, address int, fn Function) (int, error) {
	if err := validateAddress(address); err != nil {
		return 0, err
	}
	if fn.WriteOnly {
		return 0, fmt.Errorf("function %d is write-only", fn.Code)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBusClosed
	}

	frame, err := ReadRequest(address, fn.Code).Encode()
	if err != nil {
		return 0, err
	}

	if err := b.sendFrameLocked(frame); err != nil {
		return 0, &CommError{Op: "read", Err: err}
	}

	resp, err := b.readResponseLocked(ctx)
	if err != nil {
		return 0, &DeviceError{Address: address, Op: fmt.Sprintf("read function %d", fn.Code), Err: err}
	}

	if resp.OK {
		return 0, &DeviceError{
			Address: address,
			Op:      fmt.Sprintf("read function %d", fn.Code),
			Err:     fmt.Errorf("%w: got write acknowledgement for a read", ErrInvalidFrame),
		}
	}
	if resp.Address != address || resp.Function != fn.Code {
		return 0, &DeviceError{
			Address: address,
			Op:      fmt.Sprintf("read function %d", fn.Code),
			Err: fmt.Errorf("%w: reply echoes address %d function %d",
				ErrInvalidFrame, resp.Address, resp.Function),
		}
	}

	return resp.Value, nil
}

// Write performs one write transaction and waits for the device's
// acknowledgement.
func (b *Bus) Write(ctx context.Context, address int, fn Function, operands ...int) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	if fn.ReadOnly {
		return fmt.Errorf("function %d is read-only", fn.Code)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	frame, err := WriteRequest(address, fn.Code, operands...).Encode()
	if err != nil {
		return err
	}

	if err := b.sendFrameLocked(frame); err != nil {
		return &CommError{Op: "write", Err: err}
	}

	resp, err := b.readResponseLocked(ctx)
	if err != nil {
		return &DeviceError{Address: address, Op: fmt.Sprintf("write function %d", fn.Code), Err: err}
	}

	if !resp.OK {
		return &DeviceError{
			Address: address,
			Op:      fmt.Sprintf("write function %d", fn.Code),
			Err:     fmt.Errorf("%w: expected acknowledgement, got value reply", ErrInvalidFrame),
		}
	}
	if resp.Address != address {
		return &DeviceError{
			Address: address,
			Op:      fmt.Sprintf("write function %d", fn.Code),
			Err:     fmt.Errorf("%w: acknowledgement from address %d", ErrInvalidFrame, resp.Address),
		}
	}

	return nil
}

// Scan searches for devices by querying each address in the range.
// Addresses that answer the max-voltage query are reported.
func (b *Bus) Scan(ctx context.Context, startAddr, endAddr int) ([]FoundDevice, error) {
	if startAddr < MinAddress || endAddr > MaxAddress || startAddr > endAddr {
		return nil, fmt.Errorf("invalid address range: %d to %d", startAddr, endAddr)
	}

	var found []FoundDevice

	for addr := startAddr; addr <= endAddr; addr++ {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		maxCV, err := b.Read(ctx, addr, FuncMaxVoltage)
		if err != nil {
			continue // No response at this address
		}

		f := FoundDevice{
			Address:       addr,
			MaxCentivolts: maxCV,
		}

		if maxMA, err := b.Read(ctx, addr, FuncMaxCurrent); err == nil {
			f.MaxMilliamps = maxMA
			if model, ok := GetModelByMaxCurrent(maxMA); ok {
				f.Model = model
			}
		}

		found = append(found, f)
	}

	return found, nil
}

// FoundDevice represents a device discovered during scanning.
type FoundDevice struct {
	Address       int
	MaxCentivolts int
	MaxMilliamps  int
	Model         *Model // May be nil if the model is unknown
}

// Internal methods

func validateAddress(address int) error {
	if address < MinAddress || address > MaxAddress {
		return fmt.Errorf("%w: %d (valid range: %d-%d)", ErrInvalidAddress, address, MinAddress, MaxAddress)
	}
	return nil
}

func (b *Bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *Bus) sendFrameLocked(frame []byte) error {
	b.enforceCommandGap()

	// Flush any stale input
	b.transport.Flush()

	n, err := b.transport.Write(frame)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(frame))
	}

	b.lastCmdTime = time.Now()

	return nil
}

func (b *Bus) readResponseLocked(ctx context.Context) (Response, error) {
	data, err := b.readFrameLocked(ctx)
	if err != nil {
		return Response{}, err
	}

	return DecodeResponse(data)
}

// readFrameLocked accumulates bytes until the LF that terminates every
// reply frame, or the bus timeout expires.
func (b *Bus) readFrameLocked(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, 0, 32)
	chunk := make([]byte, 32)
	deadline := time.Now().Add(b.timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if len(buffer) == 0 {
				return nil, ErrNoResponse
			}
			return nil, fmt.Errorf("%w: partial frame %q", ErrTimeout, buffer)
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		b.transport.SetReadTimeout(remaining)

		n, err := b.transport.Read(chunk)
		if err != nil {
			// Check if it's a timeout (expected when waiting)
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("read error: %w", err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		buffer = append(buffer, chunk[:n]...)
		if i := bytes.IndexByte(buffer, '\n'); i >= 0 {
			return buffer[:i+1], nil
		}
	}
}
