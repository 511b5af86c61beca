package dpm86xx

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stern-biozoom/dpm86xx-go/transports"
)

func newTestBus(t *testing.T, mock *transports.MockTransport) *Bus {
	t.Helper()

	bus, err := NewBus(BusConfig{
		Transport:     mock,
		Timeout:       100 * time.Millisecond,
		MinCommandGap: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	return bus
}

func TestBus_Read(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte(":01r30=500.\r\n"),
	}
	bus := newTestBus(t, mock)

	ctx := context.Background()
	val, err := bus.Read(ctx, 1, FuncActualVoltage)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if val != 500 {
		t.Errorf("value: got %d, want 500", val)
	}

	// Verify the request frame that went out
	expected := []byte(":01r30=0,\r\n")
	if !bytes.Equal(mock.WriteData, expected) {
		t.Errorf("request frame: got %q, want %q", mock.WriteData, expected)
	}
}

func TestBus_Write(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte(":01ok\r\n"),
	}
	bus := newTestBus(t, mock)

	ctx := context.Background()
	err := bus.Write(ctx, 1, FuncVoltageSetting, 1250)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	expected := []byte(":01w10=1250,\r\n")
	if !bytes.Equal(mock.WriteData, expected) {
		t.Errorf("request frame: got %q, want %q", mock.WriteData, expected)
	}
}

func TestBus_ReadAddressEchoMismatch(t *testing.T) {
	// Reply from the wrong address must be rejected, not returned.
	mock := &transports.MockTransport{
		ReadData: []byte(":02r30=500.\r\n"),
	}
	bus := newTestBus(t, mock)

	_, err := bus.Read(context.Background(), 1, FuncActualVoltage)
	if err == nil {
		t.Fatal("expected error for address mismatch")
	}

	devErr, ok := GetDeviceError(err)
	if !ok {
		t.Fatalf("expected DeviceError, got %T", err)
	}
	if devErr.Address != 1 {
		t.Errorf("error address: got %d, want 1", devErr.Address)
	}
}

func TestBus_ReadFunctionEchoMismatch(t *testing.T) {
	mock := &transports.MockTransport{
		ReadData: []byte(":01r31=500.\r\n"),
	}
	bus := newTestBus(t, mock)

	_, err := bus.Read(context.Background(), 1, FuncActualVoltage)
	if err == nil {
		t.Fatal("expected error for function mismatch")
	}
}

func TestBus_WriteGetsValueReply(t *testing.T) {
	// A write must be answered by ":AAok"; a value reply is a protocol
	// violation.
	mock := &transports.MockTransport{
		ReadData: []byte(":01r10=1250.\r\n"),
	}
	bus := newTestBus(t, mock)

	err := bus.Write(context.Background(), 1, FuncVoltageSetting, 1250)
	if err == nil {
		t.Fatal("expected error for missing acknowledgement")
	}
}

func TestBus_ReadWriteOnlyFunction(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	_, err := bus.Read(context.Background(), 1, FuncVoltageAndCurrent)
	if err == nil {
		t.Fatal("expected error reading a write-only function")
	}
	if len(mock.WriteData) != 0 {
		t.Errorf("bytes written for rejected request: %q", mock.WriteData)
	}
}

func TestBus_WriteReadOnlyFunction(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	err := bus.Write(context.Background(), 1, FuncActualVoltage, 500)
	if err == nil {
		t.Fatal("expected error writing a read-only function")
	}
	if len(mock.WriteData) != 0 {
		t.Errorf("bytes written for rejected request: %q", mock.WriteData)
	}
}

func TestBus_InvalidAddress(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	ctx := context.Background()

	if _, err := bus.Read(ctx, 0, FuncActualVoltage); err == nil {
		t.Error("expected error for address 0")
	}
	if _, err := bus.Read(ctx, 100, FuncActualVoltage); err == nil {
		t.Error("expected error for address 100")
	}
	if len(mock.WriteData) != 0 {
		t.Errorf("bytes written for rejected request: %q", mock.WriteData)
	}
}

func TestBus_NoResponse(t *testing.T) {
	mock := &transports.MockTransport{} // never answers
	bus := newTestBus(t, mock)

	_, err := bus.Read(context.Background(), 1, FuncActualVoltage)
	if !IsNoResponse(err) {
		t.Errorf("expected ErrNoResponse, got %v", err)
	}
}

func TestBus_PartialFrameTimesOut(t *testing.T) {
	// A reply that never reaches its LF terminator is a timeout, never
	// a decoded value.
	mock := &transports.MockTransport{
		Script: transports.Replies(":01r30=5"),
	}
	bus := newTestBus(t, mock)

	_, err := bus.Read(context.Background(), 1, FuncActualVoltage)
	if !IsTimeout(err) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestBus_Close(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock})

	if err := bus.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !mock.Closed {
		t.Error("transport not closed")
	}

	// Closing again should be safe
	if err := bus.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestBus_ClosedOperations(t *testing.T) {
	mock := &transports.MockTransport{}
	bus, _ := NewBus(BusConfig{Transport: mock})
	bus.Close()

	ctx := context.Background()

	if _, err := bus.Read(ctx, 1, FuncActualVoltage); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if err := bus.Write(ctx, 1, FuncVoltageSetting, 100); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestBus_ContextCancellation(t *testing.T) {
	// Simulate slow transport
	mock := &transports.MockTransport{
		ReadFunc: func(p []byte) (int, error) {
			time.Sleep(500 * time.Millisecond)
			return 0, nil
		},
	}
	bus := newTestBus(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := bus.Read(ctx, 1, FuncActualVoltage)
	if err == nil {
		t.Error("expected context cancellation error")
	}
}

func TestBus_Scan(t *testing.T) {
	// Only address 1 answers; 2 and 3 stay silent.
	mock := &transports.MockTransport{
		Script: transports.Replies(
			":01r00=6000.\r\n",  // max voltage
			":01r01=24000.\r\n", // max current
		),
	}
	bus := newTestBus(t, mock)

	found, err := bus.Scan(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("got %d devices, want 1", len(found))
	}
	if found[0].Address != 1 {
		t.Errorf("address: got %d, want 1", found[0].Address)
	}
	if found[0].MaxCentivolts != 6000 {
		t.Errorf("max voltage: got %d cV, want 6000", found[0].MaxCentivolts)
	}
	if found[0].Model == nil || found[0].Model.Name != "DPM8624" {
		t.Errorf("model: got %v, want DPM8624", found[0].Model)
	}
}

func TestBus_ScanInvalidRange(t *testing.T) {
	mock := &transports.MockTransport{}
	bus := newTestBus(t, mock)

	if _, err := bus.Scan(context.Background(), 0, 3); err == nil {
		t.Error("expected error for start address 0")
	}
	if _, err := bus.Scan(context.Background(), 5, 2); err == nil {
		t.Error("expected error for inverted range")
	}
}
