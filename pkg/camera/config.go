// Package camera supplies frames to the perception loop and caches the
// latest one for the viewers.
package camera

// Config holds capture settings for the overhead camera.
type Config struct {
	Device    int    `json:"device" yaml:"device"`       // OpenCV device index
	File      string `json:"file,omitempty" yaml:"file"` // Replay a video file or image instead of a device
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	Framerate int    `json:"framerate" yaml:"framerate"`
	Quality   int    `json:"quality" yaml:"quality"` // JPEG quality 1-100
	Loop      bool   `json:"loop" yaml:"loop"`       // Restart File at EOF
}

// Capture limits accepted by Validate.
const (
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns the 640x480 settings the detector was tuned on.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   80,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.Device < 0 {
		errs = append(errs, "device must be >= 0")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errs = append(errs, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errs = append(errs, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errs = append(errs, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, "quality must be between 1 and 100")
	}

	return errs
}
