package protocol

import (
	"encoding/base64"
	"fmt"
)

// =============================================================================
// Constructors
// =============================================================================

// NewMotorMessage creates a wheel command.
func NewMotorMessage(seq uint64, left, right int) (*Message, error) {
	return NewMessage(TypeMotor, MotorData{Seq: seq, Left: left, Right: right})
}

// NewIndicatorMessage creates an indicator command.
func NewIndicatorMessage(seq uint64, r, g, b uint8) (*Message, error) {
	return NewMessage(TypeIndicator, IndicatorData{Seq: seq, R: r, G: g, B: b})
}

// NewConnectMessage creates a connect command.
func NewConnectMessage(seq uint64) (*Message, error) {
	return NewMessage(TypeConnect, ConnectData{Seq: seq})
}

// NewHelloMessage creates an agent hello.
func NewHelloMessage(agentID string, cubeID int) (*Message, error) {
	return NewMessage(TypeHello, HelloData{AgentID: agentID, CubeID: cubeID})
}

// NewAckMessage answers command seq. A nil err is a success.
func NewAckMessage(seq uint64, err error, unreachable bool) (*Message, error) {
	ack := AckData{Seq: seq, OK: err == nil && !unreachable, Unreachable: unreachable}
	if err != nil {
		ack.Error = err.Error()
	}
	return NewMessage(TypeAck, ack)
}

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: ts})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Parsing
// =============================================================================

// Decode extracts the payload of m as T.
func Decode[T any](m *Message) (*T, error) {
	var data T
	if err := m.ParseData(&data); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return &data, nil
}

// Seq returns the sequence number of a command or ack, or false for
// message types that carry none.
func (m *Message) Seq() (uint64, bool) {
	var s struct {
		Seq *uint64 `json:"seq"`
	}
	switch m.Type {
	case TypeMotor, TypeIndicator, TypeConnect, TypeAck:
	default:
		return 0, false
	}
	if err := m.ParseData(&s); err != nil || s.Seq == nil {
		return 0, false
	}
	return *s.Seq, true
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}
