package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎语音二进制帧：4字节头 + 可选序号/事件 + 4字节长度 + payload，均为大端序。
const protocolVersion = 0b0001

type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

type MessageFlags uint8

const (
	NoSequence       MessageFlags = 0b0000
	PositiveSequence MessageFlags = 0b0001
	LastNoSequence   MessageFlags = 0b0010
	NegativeSequence MessageFlags = 0b0011
	WithEvent        MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// EventType 服务端事件
type EventType int32

const (
	EventNone               EventType = 0
	EventStartConnection    EventType = 1
	EventFinishConnection   EventType = 2
	EventConnectionStarted  EventType = 50
	EventConnectionFailed   EventType = 51
	EventConnectionFinished EventType = 52
	EventSessionStarted     EventType = 150
	EventSessionFinished    EventType = 152
	EventSessionFailed      EventType = 153
)

var errShortFrame = errors.New("frame truncated")

// Frame is one websocket binary message.
type Frame struct {
	Type          MessageType
	Flags         MessageFlags
	Serialization Serialization
	Compression   Compression
	Sequence      int32
	Event         EventType
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte
}

func (f *Frame) hasSequence() bool {
	s := f.Flags & sequenceMask
	return s == PositiveSequence || s == NegativeSequence
}

func (f *Frame) hasEvent() bool { return f.Flags&WithEvent != 0 }

// IsLast 最后一包：无序号结束包或负序号。
func (f *Frame) IsLast() bool {
	s := f.Flags & sequenceMask
	return s == LastNoSequence || s == NegativeSequence
}

// MarshalBinary encodes the frame.
func (f *Frame) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 16+len(f.Payload))
	out = append(out,
		protocolVersion<<4|0b0001,
		byte(f.Type)<<4|byte(f.Flags&0x0F),
		byte(f.Serialization)<<4|byte(f.Compression),
		0,
	)
	if f.hasSequence() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Sequence))
	}
	if f.hasEvent() {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Event))
		if !eventOmitsSession(f.Event) {
			out = appendSized(out, []byte(f.SessionID))
		}
		if eventCarriesConnect(f.Event) {
			out = appendSized(out, []byte(f.ConnectID))
		}
	}
	if f.Type == ErrorMessage {
		out = binary.BigEndian.AppendUint32(out, f.ErrorCode)
	}
	return appendSized(out, f.Payload), nil
}

// ParseFrame decodes one message received from the server.
func ParseFrame(data []byte) (*Frame, error) {
	r := frameReader{buf: data}
	head, err := r.next(4)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if v := head[0] >> 4; v != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", v)
	}
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := r.next(extra); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &Frame{
		Type:          MessageType(head[1] >> 4),
		Flags:         MessageFlags(head[1] & 0x0F),
		Serialization: Serialization(head[2] >> 4),
		Compression:   Compression(head[2] & 0x0F),
	}

	if f.hasSequence() {
		seq, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.Sequence = int32(seq)
	}
	if f.hasEvent() {
		ev, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.Event = EventType(int32(ev))
		if !eventOmitsSession(f.Event) {
			if f.SessionID, err = r.sized(); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if eventCarriesConnect(f.Event) {
			if f.ConnectID, err = r.sized(); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}
	if f.Type == ErrorMessage {
		if f.ErrorCode, err = r.uint32(); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	size, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if f.Payload, err = r.next(int(size)); err != nil {
		return nil, fmt.Errorf("read payload (%d bytes): %w", size, err)
	}
	return f, nil
}

// Body returns the payload with compression removed.
func (f *Frame) Body() ([]byte, error) {
	switch f.Compression {
	case NoCompression:
		return f.Payload, nil
	case GzipCompression:
		return gunzip(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression %d", f.Compression)
	}
}

// requestFrame 客户端完整请求（JSON）。
func requestFrame(body []byte, compression Compression) (*Frame, error) {
	payload, err := compress(body, compression)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:          FullClientRequest,
		Serialization: JSONSerialization,
		Compression:   compression,
		Payload:       payload,
	}, nil
}

// audioFrame 音频包，最后一包使用负序号。
func audioFrame(chunk []byte, seq int32, last bool, compression Compression) (*Frame, error) {
	payload, err := compress(chunk, compression)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Type:        AudioOnlyRequest,
		Compression: compression,
		Sequence:    seq,
		Payload:     payload,
	}
	switch {
	case last && seq != 0:
		f.Flags, f.Sequence = NegativeSequence, -seq
	case last:
		f.Flags = LastNoSequence
	case seq > 0:
		f.Flags = PositiveSequence
	}
	return f, nil
}

func eventOmitsSession(ev EventType) bool {
	switch ev {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

func eventCarriesConnect(ev EventType) bool {
	switch ev {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

func appendSized(out, b []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
	return append(out, b...)
}

type frameReader struct {
	buf []byte
	off int
}

func (r *frameReader) next(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, errShortFrame
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *frameReader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *frameReader) sized() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	return string(b), err
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", c)
	}
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
