package geom

import "math"

// Corners returns the four corners of a w x h box centred on c and rotated
// by deg degrees, in winding order.
func Corners(c Point, s Size, deg float64) []Point {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	hw, hh := s.W/2, s.H/2

	local := [4]Point{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	out := make([]Point, 4)
	for i, p := range local {
		out[i] = Point{
			X: c.X + p.X*cos - p.Y*sin,
			Y: c.Y + p.X*sin + p.Y*cos,
		}
	}
	return out
}

// PolygonArea returns the unsigned area of a simple polygon.
func PolygonArea(poly []Point) float64 {
	return math.Abs(signedArea(poly))
}

func signedArea(poly []Point) float64 {
	var a float64
	for i := range poly {
		p, q := poly[i], poly[(i+1)%len(poly)]
		a += p.X*q.Y - q.X*p.Y
	}
	return a / 2
}

// cross is positive when p lies left of the directed line a->b.
func cross(a, b, p Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

// ClipConvex returns the intersection of subject with the convex polygon
// clip. Either winding order is accepted.
func ClipConvex(subject, clip []Point) []Point {
	orient := 1.0
	if signedArea(clip) < 0 {
		orient = -1
	}

	out := subject
	for i := range clip {
		if len(out) == 0 {
			return nil
		}
		a, b := clip[i], clip[(i+1)%len(clip)]
		in := out
		out = make([]Point, 0, len(in)+1)

		for j := range in {
			cur, prev := in[j], in[(j+len(in)-1)%len(in)]
			dc, dp := orient*cross(a, b, cur), orient*cross(a, b, prev)
			switch {
			case dc >= 0 && dp >= 0:
				out = append(out, cur)
			case dc >= 0:
				out = append(out, lerp(prev, cur, dp/(dp-dc)), cur)
			case dp >= 0:
				out = append(out, lerp(prev, cur, dp/(dp-dc)))
			}
		}
	}
	return out
}

func lerp(p, q Point, t float64) Point {
	return Point{X: p.X + t*(q.X-p.X), Y: p.Y + t*(q.Y-p.Y)}
}

// RotatedIoU returns the intersection over union of two rotated boxes.
func RotatedIoU(c1 Point, s1 Size, deg1 float64, c2 Point, s2 Size, deg2 float64) float64 {
	inter := PolygonArea(ClipConvex(Corners(c1, s1, deg1), Corners(c2, s2, deg2)))
	union := s1.W*s1.H + s2.W*s2.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
