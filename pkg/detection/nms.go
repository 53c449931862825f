package detection

import (
	"sort"

	"github.com/teslashibe/go-swarm/pkg/geom"
)

// IoU returns the overlap of two oriented boxes.
func IoU(a, b Detection) float64 {
	return geom.RotatedIoU(a.Center, a.Size, a.AngleDeg, b.Center, b.Size, b.AngleDeg)
}

// NMS keeps the highest-confidence box of each overlapping group. Boxes are
// compared only against boxes of the same class, using the rotated overlap.
// The result is ordered by descending confidence.
func NMS(dets []Detection, threshold float64) []Detection {
	if len(dets) == 0 {
		return dets
	}

	order := make([]Detection, len(dets))
	copy(order, dets)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Confidence > order[j].Confidence
	})

	suppressed := make([]bool, len(order))
	out := make([]Detection, 0, len(order))
	for i := range order {
		if suppressed[i] {
			continue
		}
		out = append(out, order[i])
		for j := i + 1; j < len(order); j++ {
			if suppressed[j] || order[j].ClassID != order[i].ClassID {
				continue
			}
			if IoU(order[i], order[j]) > threshold {
				suppressed[j] = true
			}
		}
	}
	return out
}
