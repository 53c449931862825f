package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("camera: source closed")

	// ErrOpen means the device or file could not be opened.
	ErrOpen = errors.New("camera: open failed")

	// ErrEOF is returned by a non-looping file source at its end.
	ErrEOF = errors.New("camera: end of stream")
)

// Frame is one JPEG-encoded image.
type Frame struct {
	Seq    uint64
	At     time.Time
	Width  int
	Height int
	JPEG   []byte
}

// Source produces frames. Read blocks until the next frame is available.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Capture reads frames from an OpenCV video device or file.
type Capture struct {
	cfg Config

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	img    gocv.Mat
	seq    uint64
	closed bool
}

// Open opens the device (or file) named by cfg.
func Open(cfg Config) (*Capture, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if cfg.File != "" {
		vc, err = gocv.OpenVideoCapture(cfg.File)
	} else {
		vc, err = gocv.OpenVideoCapture(cfg.Device)
		if err == nil {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
			vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, ErrOpen
	}

	return &Capture{cfg: cfg, cap: vc, img: gocv.NewMat()}, nil
}

// Read grabs the next frame and encodes it as JPEG.
func (c *Capture) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Frame{}, ErrClosed
	}

	if ok := c.cap.Read(&c.img); !ok || c.img.Empty() {
		if c.cfg.File == "" || !c.cfg.Loop {
			return Frame{}, ErrEOF
		}
		c.cap.Set(gocv.VideoCapturePosFrames, 0)
		if ok := c.cap.Read(&c.img); !ok || c.img.Empty() {
			return Frame{}, ErrEOF
		}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.img, []int{gocv.IMWriteJpegQuality, c.cfg.Quality})
	if err != nil {
		return Frame{}, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	c.seq++
	size := c.img.Size()
	return Frame{
		Seq:    c.seq,
		At:     time.Now(),
		Width:  size[1],
		Height: size[0],
		JPEG:   data,
	}, nil
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.img.Close()
	return c.cap.Close()
}

// Static is a Source that returns the same frame at a fixed rate. It backs
// dry runs and tests.
type Static struct {
	jpeg     []byte
	size     image.Point
	interval time.Duration

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewStatic returns a source yielding jpeg every interval.
func NewStatic(jpeg []byte, size image.Point, interval time.Duration) *Static {
	return &Static{jpeg: jpeg, size: size, interval: interval}
}

// Read implements Source.
func (s *Static) Read(ctx context.Context) (Frame, error) {
	if s.interval > 0 {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(s.interval):
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrClosed
	}
	s.seq++
	return Frame{Seq: s.seq, At: time.Now(), Width: s.size.X, Height: s.size.Y, JPEG: s.jpeg}, nil
}

// Close implements Source.
func (s *Static) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var (
	_ Source = (*Capture)(nil)
	_ Source = (*Static)(nil)
)
