// Package codec implements the tracker's binary wire format: a single header
// byte, a little-endian 2-byte length of the tagged-field section, the tagged
// fields themselves, and a trailing 2-byte checksum over everything before it.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header is the frame discriminator used by the command channel.
const Header byte = 0x01

// Known field tags.
const (
	TagIMEI         byte = 0x03 // fixed 15 bytes, ASCII digits
	TagDeviceNumber byte = 0x04 // fixed 2 bytes, unsigned little-endian
	TagCorrelation  byte = 0xE0 // fixed 4 bytes, unsigned little-endian
	TagText         byte = 0xE1 // 1-byte length prefix + ASCII
	TagExtraData    byte = 0xEB // 1-byte length prefix + raw bytes
)

const (
	// IMEILength is the fixed width of the 0x03 field.
	IMEILength = 15

	// frameOverhead = header(1) + length(2) + checksum(2).
	frameOverhead = 5

	// maxVarLen is the ceiling of the 1-byte length prefix.
	maxVarLen = 255
)

var (
	ErrTooShort         = errors.New("frame too short")
	ErrLengthMismatch   = errors.New("declared length does not match frame size")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTruncated        = errors.New("field scan ran past frame boundary")
)

// UnknownTagError reports a tag outside the known set. The scan stops there
// instead of guessing a width, which would desynchronize everything after it.
type UnknownTagError struct {
	Tag    byte
	Offset int
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown tag 0x%02X at offset %d", e.Tag, e.Offset)
}

// EncodingError reports a field value that does not fit its wire encoding.
// It is returned before any bytes reach the transport.
type EncodingError struct {
	Tag    byte
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode tag 0x%02X: %s", e.Tag, e.Reason)
}

// Field is one tagged value. Order matters for encoding; Decode preserves
// wire order but accessors tolerate any order.
type Field struct {
	Tag   byte
	Value []byte
}

func IMEIField(imei string) Field { return Field{Tag: TagIMEI, Value: []byte(imei)} }

func DeviceNumberField(n uint16) Field {
	v := make([]byte, 2)
	binary.LittleEndian.PutUint16(v, n)
	return Field{Tag: TagDeviceNumber, Value: v}
}

func CorrelationField(n uint32) Field {
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, n)
	return Field{Tag: TagCorrelation, Value: v}
}

func TextField(s string) Field { return Field{Tag: TagText, Value: []byte(s)} }

func ExtraDataField(b []byte) Field { return Field{Tag: TagExtraData, Value: b} }

// fixedWidth maps the fixed-size tags to their wire width. The two
// length-prefixed tags are handled separately.
var fixedWidth = map[byte]int{
	TagIMEI:         IMEILength,
	TagDeviceNumber: 2,
	TagCorrelation:  4,
}

func lengthPrefixed(tag byte) bool { return tag == TagText || tag == TagExtraData }

// Encode frames the fields in the order given: header byte, 2-byte length of
// the field section, the fields, then the checksum over everything written
// so far. Field values that do not fit their declared width are rejected
// with an EncodingError before any I/O happens.
func Encode(header byte, fields []Field) ([]byte, error) {
	buf := make([]byte, 3, 64)
	buf[0] = header
	for _, f := range fields {
		switch {
		case fixedWidth[f.Tag] > 0:
			w := fixedWidth[f.Tag]
			if len(f.Value) != w {
				return nil, &EncodingError{Tag: f.Tag, Reason: fmt.Sprintf("need exactly %d bytes, got %d", w, len(f.Value))}
			}
			if f.Tag == TagIMEI {
				for _, c := range f.Value {
					if c < '0' || c > '9' {
						return nil, &EncodingError{Tag: f.Tag, Reason: "IMEI must be ASCII digits"}
					}
				}
			}
			buf = append(buf, f.Tag)
			buf = append(buf, f.Value...)
		case lengthPrefixed(f.Tag):
			if len(f.Value) > maxVarLen {
				return nil, &EncodingError{Tag: f.Tag, Reason: fmt.Sprintf("value length %d exceeds the 1-byte prefix ceiling", len(f.Value))}
			}
			buf = append(buf, f.Tag, byte(len(f.Value)))
			buf = append(buf, f.Value...)
		default:
			return nil, &EncodingError{Tag: f.Tag, Reason: "unknown tag"}
		}
	}
	if len(buf)-3 > 0xFFFF {
		return nil, &EncodingError{Tag: header, Reason: "field section exceeds 2-byte length field"}
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(buf)-3))
	return binary.LittleEndian.AppendUint16(buf, Checksum(buf)), nil
}

// Packet is one decoded wire message.
type Packet struct {
	Header   byte
	Fields   []Field
	Checksum uint16
}

// Decode validates the frame and scans its tagged fields. The checksum is
// verified before any field content is trusted.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < frameOverhead {
		return nil, ErrTooShort
	}
	if int(binary.LittleEndian.Uint16(frame[1:3])) != len(frame)-frameOverhead {
		return nil, ErrLengthMismatch
	}
	want := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if Checksum(frame[:len(frame)-2]) != want {
		return nil, ErrChecksumMismatch
	}

	p := &Packet{Header: frame[0], Checksum: want}
	body := frame[3 : len(frame)-2]
	for off := 0; off < len(body); {
		tag := body[off]
		off++
		var width int
		switch {
		case fixedWidth[tag] > 0:
			width = fixedWidth[tag]
		case lengthPrefixed(tag):
			if off >= len(body) {
				return nil, ErrTruncated
			}
			width = int(body[off])
			off++
		default:
			return nil, &UnknownTagError{Tag: tag, Offset: 3 + off - 1}
		}
		if off+width > len(body) {
			return nil, ErrTruncated
		}
		v := make([]byte, width)
		copy(v, body[off:off+width])
		p.Fields = append(p.Fields, Field{Tag: tag, Value: v})
		off += width
	}
	return p, nil
}

func (p *Packet) field(tag byte) ([]byte, bool) {
	for _, f := range p.Fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return nil, false
}

func (p *Packet) IMEI() (string, bool) {
	v, ok := p.field(TagIMEI)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Packet) DeviceNumber() (uint16, bool) {
	v, ok := p.field(TagDeviceNumber)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(v), true
}

func (p *Packet) Correlation() (uint32, bool) {
	v, ok := p.field(TagCorrelation)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

func (p *Packet) Text() (string, bool) {
	v, ok := p.field(TagText)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (p *Packet) ExtraData() ([]byte, bool) {
	return p.field(TagExtraData)
}
