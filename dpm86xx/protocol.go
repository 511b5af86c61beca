// Package dpm86xx provides a Go library for communicating with Joy-IT
// DPM86XX series programmable lab power supplies over their serial
// "simple protocol".
package dpm86xx

import (
	"bytes"
	"fmt"
	"strconv"
)

// Request kinds per the DPM86XX protocol specification.
const (
	KindRead  byte = 'r'
	KindWrite byte = 'w'
)

// Protocol limits.
const (
	MinAddress = 1
	MaxAddress = 99

	maxFunctionCode = 99
	maxOperand      = 65536
)

// Frame markers.
const (
	frameStart     = ':'
	operandSep     = ','
	readTerminator = '.'
)

var frameEnd = []byte("\r\n")

// Request represents a single command to be sent to a device.
type Request struct {
	Address  int
	Kind     byte
	Function int
	Operands []int
}

// Response represents a decoded reply frame.
// For read replies, Value holds the decoded integer and OK is false.
// For write acknowledgements (":AAok"), OK is true and Value is zero.
type Response struct {
	Address  int
	Kind     byte
	Function int
	Value    int
	OK       bool
}

// ReadRequest builds a read request for the given function code.
// The protocol requires an operand even on reads; it is always zero.
func ReadRequest(address, function int) Request {
	return Request{
		Address:  address,
		Kind:     KindRead,
		Function: function,
		Operands: []int{0},
	}
}

// WriteRequest builds a write request carrying the given operands.
func WriteRequest(address, function int, operands ...int) Request {
	return Request{
		Address:  address,
		Kind:     KindWrite,
		Function: function,
		Operands: operands,
	}
}

// Encode renders the request as a wire frame:
//
//	:AAfNN=V,\r\n      (one operand)
//	:AAfNN=V,V2,\r\n   (two operands)
//
// where AA is the zero-padded device address, f is 'r' or 'w' and NN is
// the zero-padded function code. All fields are validated before any
// bytes are produced.
func (r Request) Encode() ([]byte, error) {
	if r.Address < MinAddress || r.Address > MaxAddress {
		return nil, fmt.Errorf("%w: %d (valid range: %d-%d)", ErrInvalidAddress, r.Address, MinAddress, MaxAddress)
	}
	if r.Kind != KindRead && r.Kind != KindWrite {
		return nil, fmt.Errorf("invalid request kind %q", r.Kind)
	}
	if r.Function < 0 || r.Function > maxFunctionCode {
		return nil, fmt.Errorf("%w: function code %d (valid range: 0-%d)", ErrOutOfRange, r.Function, maxFunctionCode)
	}
	if len(r.Operands) < 1 || len(r.Operands) > 2 {
		return nil, fmt.Errorf("request needs one or two operands, have %d", len(r.Operands))
	}
	for _, op := range r.Operands {
		if op < 0 || op > maxOperand {
			return nil, fmt.Errorf("%w: operand %d (valid range: 0-%d)", ErrOutOfRange, op, maxOperand)
		}
	}

	buf := make([]byte, 0, 16)
	buf = append(buf, frameStart)
	buf = appendPadded(buf, r.Address)
	buf = append(buf, r.Kind)
	buf = appendPadded(buf, r.Function)
	buf = append(buf, '=')
	for _, op := range r.Operands {
		buf = strconv.AppendInt(buf, int64(op), 10)
		buf = append(buf, operandSep)
	}
	buf = append(buf, frameEnd...)

	return buf, nil
}

// DecodeResponse parses a reply frame. Two shapes exist:
//
//	:AAok\r\n          write acknowledgement
//	:AAfNN=VALUE.\r\n  read reply, value terminated by a full stop
//
// Anything else is rejected with an error wrapping ErrInvalidFrame.
func DecodeResponse(data []byte) (Response, error) {
	if !bytes.HasSuffix(data, frameEnd) {
		return Response{}, fmt.Errorf("%w: missing CRLF terminator in %q", ErrInvalidFrame, data)
	}
	body := data[:len(data)-len(frameEnd)]

	if len(body) < 5 || body[0] != frameStart {
		return Response{}, fmt.Errorf("%w: %q", ErrInvalidFrame, data)
	}

	address, err := parsePadded(body[1:3])
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad address in %q", ErrInvalidFrame, data)
	}

	// Write acknowledgement: :AAok
	if bytes.Equal(body[3:], []byte("ok")) {
		return Response{Address: address, OK: true}, nil
	}

	// Read reply: :AAfNN=VALUE.
	if len(body) < 8 {
		return Response{}, fmt.Errorf("%w: frame too short: %q", ErrInvalidFrame, data)
	}

	kind := body[3]
	if kind != KindRead && kind != KindWrite {
		return Response{}, fmt.Errorf("%w: bad kind %q in %q", ErrInvalidFrame, kind, data)
	}

	function, err := parsePadded(body[4:6])
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad function code in %q", ErrInvalidFrame, data)
	}

	if body[6] != '=' || body[len(body)-1] != readTerminator {
		return Response{}, fmt.Errorf("%w: %q", ErrInvalidFrame, data)
	}

	value, err := strconv.Atoi(string(body[7 : len(body)-1]))
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad value in %q", ErrInvalidFrame, data)
	}

	return Response{
		Address:  address,
		Kind:     kind,
		Function: function,
		Value:    value,
	}, nil
}

func appendPadded(buf []byte, v int) []byte {
	if v < 10 {
		buf = append(buf, '0')
	}
	return strconv.AppendInt(buf, int64(v), 10)
}

func parsePadded(data []byte) (int, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("want 2 digits, have %d", len(data))
	}
	for _, b := range data {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("non-digit byte %q", b)
		}
	}
	return int(data[0]-'0')*10 + int(data[1]-'0'), nil
}
