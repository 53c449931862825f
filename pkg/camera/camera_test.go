package camera

import (
	"context"
	"image"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("DefaultConfig invalid: %v", errs)
	}
	for _, name := range PresetNames() {
		p := GetPreset(name)
		if p == nil {
			t.Fatalf("preset %q missing", name)
		}
		if errs := p.Validate(); len(errs) != 0 {
			t.Errorf("preset %q invalid: %v", name, errs)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   int
	}{
		{"negative device", func(c *Config) { c.Device = -1 }, 1},
		{"tiny width", func(c *Config) { c.Width = 10 }, 1},
		{"zero framerate", func(c *Config) { c.Framerate = 0 }, 1},
		{"quality and height", func(c *Config) { c.Quality = 101; c.Height = 5000 }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if got := len(cfg.Validate()); got != tt.want {
				t.Errorf("Validate() returned %d errors, want %d", got, tt.want)
			}
		})
	}
}

func TestGetPresetUnknown(t *testing.T) {
	if GetPreset("nope") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = 2
	m := NewManager(cfg)

	if _, ok := m.Latest(); ok {
		t.Error("new manager should have no frame")
	}

	var got []uint64
	m.OnFrame(func(f Frame) { got = append(got, f.Seq) })

	m.Store(Frame{Seq: 1, JPEG: []byte{1}})
	m.Store(Frame{Seq: 2, JPEG: []byte{2}})

	f, ok := m.Latest()
	if !ok || f.Seq != 2 {
		t.Errorf("Latest() = %v, %v", f.Seq, ok)
	}
	if m.Frames() != 2 || len(got) != 2 {
		t.Errorf("frames = %d, hooks = %d", m.Frames(), len(got))
	}

	if err := m.ApplyPreset(Preset720p); err != nil {
		t.Fatal(err)
	}
	if c := m.Config(); c.Width != 1280 || c.Device != 2 {
		t.Errorf("preset not applied or device lost: %+v", c)
	}
	if err := m.ApplyPreset("nope"); err == nil {
		t.Error("unknown preset should fail")
	}
}

func TestStaticSource(t *testing.T) {
	s := NewStatic([]byte{0xff, 0xd8}, image.Pt(640, 480), time.Millisecond)
	ctx := context.Background()

	f1, err := s.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	f2, _ := s.Read(ctx)
	if f1.Seq != 1 || f2.Seq != 2 || f2.Width != 640 {
		t.Errorf("frames = %+v %+v", f1, f2)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Read(cctx); err == nil {
		t.Error("cancelled read should fail")
	}

	s.Close()
	if _, err := s.Read(ctx); err != ErrClosed {
		t.Errorf("Read after Close = %v, want ErrClosed", err)
	}
}
