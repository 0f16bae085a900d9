// Package wire defines the binary framing and JSON payload contract for
// the TCP transport (handshake, ping/pong, command, response, error).
//
// Grounded on bundoc/wire/protocol.go's fixed 5-byte [OpCode|Length]
// header followed by a JSON body, and bundoc-server/internal/server/tcp.go's
// per-connection header/body read loop. Only the message contract lives
// here — spec.md keeps the transport itself out of scope; server/ supplies
// a thin accept loop that exercises this contract end to end.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// OpCode identifies a wire message's payload shape.
type OpCode uint8

const (
	OpHandshake OpCode = 1
	OpPing      OpCode = 2
	OpPong      OpCode = 3
	OpCommand   OpCode = 4

	OpResponse OpCode = 10
	OpError    OpCode = 11
)

// Header is the fixed-size 5-byte frame prefix: 1 byte OpCode, 4 bytes
// big-endian body length.
type Header struct {
	OpCode OpCode
	Length uint32
}

const HeaderSize = 5

// WriteMessage frames and writes one message: header followed by the
// JSON-encoded body.
func WriteMessage(w io.Writer, op OpCode, body interface{}) error {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}

	if _, err := w.Write([]byte{byte(op)}); err != nil {
		return err
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(bodyBytes)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if len(bodyBytes) > 0 {
		if _, err := w.Write(bodyBytes); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads and decodes the fixed-size frame header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return Header{
		OpCode: OpCode(buf[0]),
		Length: binary.BigEndian.Uint32(buf[1:]),
	}, nil
}

// ReadBody decodes length bytes from r as JSON into v.
func ReadBody(r io.Reader, length uint32, v interface{}) error {
	if length == 0 {
		return nil
	}
	lr := io.LimitReader(r, int64(length))
	return json.NewDecoder(lr).Decode(v)
}
