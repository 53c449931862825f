package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "motor message",
			msgType: TypeMotor,
			data:    MotorData{Seq: 1, Left: 30, Right: -30},
		},
		{
			name:    "hello message",
			msgType: TypeHello,
			data:    HelloData{AgentID: "a", CubeID: 2},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeStatus,
			data:    func() {},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("timestamp should be set")
			}
		})
	}
}

func TestMotorMessageRoundTrip(t *testing.T) {
	msg, err := NewMotorMessage(42, 35, -35)
	if err != nil {
		t.Fatalf("NewMotorMessage() error = %v", err)
	}
	b, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	motor, err := Decode[MotorData](parsed)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if motor.Seq != 42 || motor.Left != 35 || motor.Right != -35 {
		t.Errorf("motor = %+v", motor)
	}
	if seq, ok := parsed.Seq(); !ok || seq != 42 {
		t.Errorf("Seq() = %d, %v", seq, ok)
	}
}

func TestAckMessage(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unreachable bool
		wantOK      bool
	}{
		{"success", nil, false, true},
		{"rejected", errors.New("motor busy"), false, false},
		{"unreachable", errors.New("disconnected"), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewAckMessage(7, tt.err, tt.unreachable)
			if err != nil {
				t.Fatal(err)
			}
			ack, err := Decode[AckData](msg)
			if err != nil {
				t.Fatal(err)
			}
			if ack.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", ack.OK, tt.wantOK)
			}
			if ack.Unreachable != tt.unreachable {
				t.Errorf("Unreachable = %v", ack.Unreachable)
			}
			if tt.err != nil && ack.Error != tt.err.Error() {
				t.Errorf("Error = %q", ack.Error)
			}
		})
	}
}

func TestSeqAbsent(t *testing.T) {
	msg, _ := NewPingMessage("p1", 100)
	if _, ok := msg.Seq(); ok {
		t.Error("ping should carry no seq")
	}
}

func TestPoseMessage_NullableWorldCoords(t *testing.T) {
	x, z := 12.5, -3.25
	pm := PoseMessage{Poses: []Pose{
		{ID: "0", X: &x, Z: &z, Angle: 90, PixelX: 300, PixelY: 200, Conf: 0.9},
		{ID: "1", Angle: 10, PixelX: 100, PixelY: 50, Conf: 0.7},
	}}

	b, err := pm.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	var raw map[string][]map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	poses := raw["poses"]
	if len(poses) != 2 {
		t.Fatalf("poses = %d, want 2", len(poses))
	}
	if poses[0]["x"] != 12.5 || poses[0]["z"] != -3.25 {
		t.Errorf("calibrated pose = %v", poses[0])
	}
	if v, ok := poses[1]["x"]; !ok || v != nil {
		t.Errorf("uncalibrated x should be null, got %v (present %v)", v, ok)
	}
	if poses[1]["pixel_x"] != 100.0 {
		t.Errorf("pixel_x = %v", poses[1]["pixel_x"])
	}
}

func TestPoseMessage_EmptyIsArray(t *testing.T) {
	b, err := PoseMessage{}.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"poses":[]}` {
		t.Errorf("got %s", b)
	}
}

func TestPingPongMessage(t *testing.T) {
	pong, err := NewPongMessage("p1", 1000, 1042)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Decode[PongData](pong)
	if err != nil {
		t.Fatal(err)
	}
	if data.LatencyMs != 42 {
		t.Errorf("LatencyMs = %d, want 42", data.LatencyMs)
	}
}

func TestFrameMessage(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	msg, err := NewFrameMessage(640, 480, jpeg, 3)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := Decode[FrameData](msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := frame.DecodeFrameData()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(jpeg) || frame.Format != "jpeg" || frame.FrameID != 3 {
		t.Errorf("frame = %+v", frame)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "hello"},
		{"truncated", `{"type":"motor"`},
		{"missing type", `{"ts":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "protocol:") {
				t.Errorf("error %q lacks package prefix", err)
			}
		})
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewMotorMessage(1, 20, 20)
	data, _ := msg.Bytes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseMessage(data)
	}
}
