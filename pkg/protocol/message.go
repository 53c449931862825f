// Package protocol defines the WebSocket messages exchanged with bridge
// agents and pose viewers.
//
// Bridge agents own the BLE connection to one cube each. The coordinator
// sends them motor, indicator and connect commands and they answer each
// with an ack carrying the same sequence number.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Coordinator → agent
	TypeMotor     MessageType = "motor"     // Wheel speeds
	TypeIndicator MessageType = "indicator" // Indicator LED color
	TypeConnect   MessageType = "connect"   // Establish the BLE connection

	// Agent → coordinator
	TypeHello MessageType = "hello" // Agent identifies itself
	TypeAck   MessageType = "ack"   // Command result

	// Coordinator → viewers
	TypePoses  MessageType = "poses"  // Entity poses
	TypeStatus MessageType = "status" // Fleet status
	TypeFrame  MessageType = "frame"  // Camera JPEG

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: message without type")
	}
	return &msg, nil
}

// =============================================================================
// Bridge commands
// =============================================================================

// MotorData sets both wheel speeds.
type MotorData struct {
	Seq   uint64 `json:"seq"`
	Left  int    `json:"left"`
	Right int    `json:"right"`
}

// IndicatorData sets the indicator LED.
type IndicatorData struct {
	Seq uint64 `json:"seq"`
	R   uint8  `json:"r"`
	G   uint8  `json:"g"`
	B   uint8  `json:"b"`
}

// ConnectData asks the agent to (re)connect to its cube.
type ConnectData struct {
	Seq uint64 `json:"seq"`
}

// HelloData is the first message an agent sends.
type HelloData struct {
	AgentID  string `json:"agent_id"`
	CubeID   int    `json:"cube_id"`
	CubeName string `json:"cube_name,omitempty"`
}

// AckData answers a command. Unreachable reports that the agent lost its
// cube; the coordinator treats it as terminal.
type AckData struct {
	Seq         uint64 `json:"seq"`
	OK          bool   `json:"ok"`
	Unreachable bool   `json:"unreachable,omitempty"`
	Error       string `json:"error,omitempty"`
}

// =============================================================================
// Viewer messages
// =============================================================================

// Pose is one entity in a PoseMessage. X and Z are nil until the world
// frame is calibrated; the pixel position is always present.
type Pose struct {
	ID     string   `json:"id"`
	X      *float64 `json:"x"`
	Z      *float64 `json:"z"`
	Angle  float64  `json:"angle"`
	PixelX float64  `json:"pixel_x"`
	PixelY float64  `json:"pixel_y"`
	Conf   float64  `json:"conf"`
}

// PoseMessage is the payload pushed to pose subscribers. It is sent bare,
// not wrapped in a Message, so existing viewers keep working.
type PoseMessage struct {
	Poses []Pose `json:"poses"`
}

// Bytes returns the JSON-encoded pose message.
func (p PoseMessage) Bytes() ([]byte, error) {
	if p.Poses == nil {
		p.Poses = []Pose{}
	}
	return json.Marshal(p)
}

// FrameData carries one camera frame.
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
