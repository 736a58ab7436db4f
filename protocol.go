package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ─────────────────────────────────────────────────────────────────────────────
// PROTOCOL CONSTANTS
// ─────────────────────────────────────────────────────────────────────────────

const magicCookie uint32 = 0xabcddcba

// MsgType is the one-byte tag that follows the magic cookie.
type MsgType byte

const (
	tOffer   MsgType = 0x02
	tRequest MsgType = 0x03
	tPayload MsgType = 0x04
)

func (t MsgType) String() string {
	switch t {
	case tOffer:
		return "OFFER"
	case tRequest:
		return "REQUEST"
	case tPayload:
		return "PAYLOAD"
	}
	return fmt.Sprintf("0x%02x", byte(t))
}

const (
	prefixLen     = 5 // magic + type
	offerLen      = prefixLen + 2 + 2
	requestLen    = prefixLen + 8
	payloadHdrLen = prefixLen + 8 + 8

	// maxDatagram is the largest UDP payload over IPv4.
	maxDatagram = 65507
)

// ─────────────────────────────────────────────────────────────────────────────
// MESSAGES
// ─────────────────────────────────────────────────────────────────────────────

// Message is one of Offer, Request or Payload.
type Message interface {
	Type() MsgType
	appendTo(b []byte) []byte
}

// Offer is broadcast by the server to advertise its service ports.
type Offer struct {
	StreamPort   uint16
	DatagramPort uint16
}

// Request asks the server for FileSize bytes of filler.
type Request struct {
	FileSize uint64
}

// Payload is one datagram segment of a transfer.
type Payload struct {
	TotalSegments uint64
	SegmentIndex  uint64
	Filler        []byte
}

func (Offer) Type() MsgType   { return tOffer }
func (Request) Type() MsgType { return tRequest }
func (Payload) Type() MsgType { return tPayload }

func appendPrefix(b []byte, t MsgType) []byte {
	b = binary.BigEndian.AppendUint32(b, magicCookie)
	return append(b, byte(t))
}

func (m Offer) appendTo(b []byte) []byte {
	b = appendPrefix(b, tOffer)
	b = binary.BigEndian.AppendUint16(b, m.StreamPort)
	return binary.BigEndian.AppendUint16(b, m.DatagramPort)
}

func (m Request) appendTo(b []byte) []byte {
	b = appendPrefix(b, tRequest)
	return binary.BigEndian.AppendUint64(b, m.FileSize)
}

func (m Payload) appendTo(b []byte) []byte {
	b = AppendPayloadHeader(b, m.TotalSegments, m.SegmentIndex)
	return append(b, m.Filler...)
}

// AppendPayloadHeader appends the fixed 21-byte payload header to b.
func AppendPayloadHeader(b []byte, total, index uint64) []byte {
	b = appendPrefix(b, tPayload)
	b = binary.BigEndian.AppendUint64(b, total)
	return binary.BigEndian.AppendUint64(b, index)
}

// Encode returns the wire form of m.
func Encode(m Message) []byte {
	return m.appendTo(nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// DECODING
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrBadMagic       = errors.New("bad magic cookie")
	ErrUnknownType    = errors.New("unknown message type")
	ErrTruncated      = errors.New("truncated message")
	ErrUnexpectedType = errors.New("unexpected message type")
)

// DecodeError describes why a buffer could not be decoded.
type DecodeError struct {
	Kind error
	Type MsgType
	Have int
	Need int
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case ErrTruncated:
		return fmt.Sprintf("%v: have %d bytes, need %d", e.Kind, e.Have, e.Need)
	case ErrUnknownType, ErrUnexpectedType:
		return fmt.Sprintf("%v: %s", e.Kind, e.Type)
	}
	return e.Kind.Error()
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func truncated(have, need int) error {
	return &DecodeError{Kind: ErrTruncated, Have: have, Need: need}
}

// Decode parses a single message. The returned Payload filler aliases b.
func Decode(b []byte) (Message, error) {
	if len(b) < 4 {
		return nil, truncated(len(b), prefixLen)
	}
	if binary.BigEndian.Uint32(b) != magicCookie {
		return nil, &DecodeError{Kind: ErrBadMagic}
	}
	if len(b) < prefixLen {
		return nil, truncated(len(b), prefixLen)
	}
	t := MsgType(b[4])
	switch t {
	case tOffer:
		if len(b) < offerLen {
			return nil, truncated(len(b), offerLen)
		}
		return Offer{
			StreamPort:   binary.BigEndian.Uint16(b[5:7]),
			DatagramPort: binary.BigEndian.Uint16(b[7:9]),
		}, nil
	case tRequest:
		if len(b) < requestLen {
			return nil, truncated(len(b), requestLen)
		}
		return Request{FileSize: binary.BigEndian.Uint64(b[5:13])}, nil
	case tPayload:
		if len(b) < payloadHdrLen {
			return nil, truncated(len(b), payloadHdrLen)
		}
		p := Payload{
			TotalSegments: binary.BigEndian.Uint64(b[5:13]),
			SegmentIndex:  binary.BigEndian.Uint64(b[13:21]),
		}
		if len(b) > payloadHdrLen {
			p.Filler = b[payloadHdrLen:]
		}
		return p, nil
	}
	return nil, &DecodeError{Kind: ErrUnknownType, Type: t}
}

func DecodeOffer(b []byte) (Offer, error) {
	m, err := Decode(b)
	if err != nil {
		return Offer{}, err
	}
	o, ok := m.(Offer)
	if !ok {
		return Offer{}, &DecodeError{Kind: ErrUnexpectedType, Type: m.Type()}
	}
	return o, nil
}

func DecodeRequest(b []byte) (Request, error) {
	m, err := Decode(b)
	if err != nil {
		return Request{}, err
	}
	r, ok := m.(Request)
	if !ok {
		return Request{}, &DecodeError{Kind: ErrUnexpectedType, Type: m.Type()}
	}
	return r, nil
}

func DecodePayload(b []byte) (Payload, error) {
	m, err := Decode(b)
	if err != nil {
		return Payload{}, err
	}
	p, ok := m.(Payload)
	if !ok {
		return Payload{}, &DecodeError{Kind: ErrUnexpectedType, Type: m.Type()}
	}
	return p, nil
}

// ReadRequest reads exactly one request header from a stream.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [requestLen]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Request{}, truncated(n, requestLen)
		}
		return Request{}, err
	}
	return DecodeRequest(hdr[:])
}

// segmentCount is ceil(size / segSize).
func segmentCount(size uint64, segSize int) uint64 {
	n := size / uint64(segSize)
	if size%uint64(segSize) != 0 {
		n++
	}
	return n
}
