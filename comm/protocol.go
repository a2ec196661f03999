// Package comm implements the datagram protocol spoken between shelly
// clients and the daemon: a fixed five-byte header followed by an
// optional MessagePack payload, plus the UDP server that answers it.
package comm

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgType is the one-byte packet tag.
type MsgType byte

const (
	// MsgRequest carries a client request payload.
	MsgRequest MsgType = 0x01
	// MsgRequestAck acknowledges receipt of a request. No payload.
	MsgRequestAck MsgType = 0x02
	// MsgResponse carries the daemon's reply payload.
	MsgResponse MsgType = 0x03
)

func (t MsgType) String() string {
	switch t {
	case MsgRequest:
		return "request"
	case MsgRequestAck:
		return "request_ack"
	case MsgResponse:
		return "response"
	}
	return fmt.Sprintf("0x%02x", byte(t))
}

const (
	// HeaderLen is the fixed packet header size: tag byte plus a
	// big-endian uint32 sequence.
	HeaderLen = 5

	// MaxPayload is the largest payload the protocol allows, excluding
	// the header.
	MaxPayload = 65536
)

// RequestPayload is the MessagePack body of a MsgRequest packet.
type RequestPayload struct {
	Content string `msgpack:"content"`
}

// ResponsePayload is the MessagePack body of a MsgResponse packet.
type ResponsePayload struct {
	Content string `msgpack:"content"`
	IsError bool   `msgpack:"is_error"`
}

// DecodeError reports a packet whose header could not be parsed.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode error: " + e.Reason }

// PayloadTooLargeError reports a payload exceeding MaxPayload.
type PayloadTooLargeError struct {
	Size int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes (max %d)", e.Size, MaxPayload)
}

// EncodePacket frames a packet: tag, big-endian sequence, raw payload
// bytes. The payload is copied verbatim; callers serialize it first.
func EncodePacket(typ MsgType, seq uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, &PayloadTooLargeError{Size: len(payload)}
	}
	pkt := make([]byte, HeaderLen+len(payload))
	pkt[0] = byte(typ)
	binary.BigEndian.PutUint32(pkt[1:HeaderLen], seq)
	copy(pkt[HeaderLen:], payload)
	return pkt, nil
}

// DecodeHeader parses the tag and sequence of a packet. It fails if the
// input is shorter than HeaderLen or the tag byte is unknown. Payload
// bytes, if any, start at pkt[HeaderLen:] and are decoded separately
// according to the tag.
func DecodeHeader(pkt []byte) (MsgType, uint32, error) {
	if len(pkt) < HeaderLen {
		return 0, 0, &DecodeError{Reason: fmt.Sprintf("packet too short: %d bytes", len(pkt))}
	}
	typ := MsgType(pkt[0])
	switch typ {
	case MsgRequest, MsgRequestAck, MsgResponse:
	default:
		return 0, 0, &DecodeError{Reason: fmt.Sprintf("unknown packet type 0x%02x", pkt[0])}
	}
	return typ, binary.BigEndian.Uint32(pkt[1:HeaderLen]), nil
}

// EncodeRequest frames a complete request packet.
func EncodeRequest(seq uint32, p RequestPayload) ([]byte, error) {
	blob, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}
	return EncodePacket(MsgRequest, seq, blob)
}

// EncodeRequestAck frames a bare acknowledgement. Always exactly
// HeaderLen bytes.
func EncodeRequestAck(seq uint32) []byte {
	pkt := make([]byte, HeaderLen)
	pkt[0] = byte(MsgRequestAck)
	binary.BigEndian.PutUint32(pkt[1:], seq)
	return pkt
}

// EncodeResponse frames a complete response packet.
func EncodeResponse(seq uint32, p ResponsePayload) ([]byte, error) {
	blob, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode response payload: %w", err)
	}
	return EncodePacket(MsgResponse, seq, blob)
}

// DecodeRequestPayload parses the body of a MsgRequest packet.
func DecodeRequestPayload(b []byte) (RequestPayload, error) {
	var p RequestPayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return RequestPayload{}, fmt.Errorf("decode request payload: %w", err)
	}
	return p, nil
}

// DecodeResponsePayload parses the body of a MsgResponse packet.
func DecodeResponsePayload(b []byte) (ResponsePayload, error) {
	var p ResponsePayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return ResponsePayload{}, fmt.Errorf("decode response payload: %w", err)
	}
	return p, nil
}
