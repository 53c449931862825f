package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-swarm/pkg/debug"
	"gocv.io/x/gocv"
)

// OBBDetector runs a YOLOv8-OBB ONNX model through OpenCV's dnn module.
type OBBDetector struct {
	net    gocv.Net
	config Config
	mu     sync.Mutex
	input  image.Point

	// skipped counts malformed output rows since start
	skipped uint64
}

// NewOBB loads the model at cfg.ModelPath.
func NewOBB(cfg Config) (*OBBDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &OBBDetector{
		net:    net,
		config: cfg,
		input:  image.Pt(cfg.InputSize, cfg.InputSize),
	}, nil
}

// Detect runs the model on a JPEG frame.
func (d *OBBDetector) Detect(frame []byte) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, ErrEmptyFrame
	}

	scaleX := float64(img.Cols()) / float64(d.config.InputSize)
	scaleY := float64(img.Rows()) / float64(d.config.InputSize)

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.input, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 4+nc+1, anchors]
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("%w: %v", ErrShape, dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	res, err := DecodeOBB(data, dims[1]-5, dims[2], d.config.ConfThreshold, scaleX, scaleY)
	if err != nil {
		return nil, err
	}
	if n := len(res.Skipped); n > 0 {
		d.skipped += uint64(n)
		debug.Log("detection: skipped %d malformed rows (%d total)", n, d.skipped)
	}

	return NMS(res.Detections, float64(d.config.NMSThreshold)), nil
}

// Close releases the network.
func (d *OBBDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

var _ Detector = (*OBBDetector)(nil)
