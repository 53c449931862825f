// Package radio defines the boundary to the cube radio link.
//
// Following the interface segregation used across the repo, Link carries
// only the two commands the coordinator issues. Transports that need an
// explicit connection step also implement Connector.
package radio

import (
	"context"
	"fmt"
)

// Wheel speed limits accepted by the cube firmware.
const (
	MinSpeed = -50
	MaxSpeed = 50
)

// Color is an indicator LED color.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Off turns the indicator off.
var Off = Color{}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Palette is the per-actuator indicator color table, indexed by id modulo
// its length.
var Palette = []Color{
	{R: 255},
	{G: 255},
	{B: 255},
}

// ColorFor returns the palette color of actuator id.
func ColorFor(id int) Color {
	if id < 0 {
		id = -id
	}
	return Palette[id%len(Palette)]
}

// Link sends commands to cubes.
type Link interface {
	SetWheelSpeeds(ctx context.Context, id, left, right int) error
	SetIndicator(ctx context.Context, id int, c Color) error
}

// Connector is implemented by links that must establish a connection to a
// cube before commands are accepted.
type Connector interface {
	Connect(ctx context.Context, id int) error
}

// ClampSpeed restricts v to the firmware range.
func ClampSpeed(v int) int {
	if v < MinSpeed {
		return MinSpeed
	}
	if v > MaxSpeed {
		return MaxSpeed
	}
	return v
}

// Stop commands zero speed on both wheels.
func Stop(ctx context.Context, l Link, id int) error {
	return l.SetWheelSpeeds(ctx, id, 0, 0)
}
