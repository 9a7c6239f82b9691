package routing

import (
	"fmt"

	"train-timeline/internal/track"
)

func TotalLength(path []Segment) float64 {
	sum := 0.0
	for _, s := range path {
		sum += s.Length()
	}
	return sum
}

func TotalCost(path []Segment) float64 {
	sum := 0.0
	for _, s := range path {
		sum += s.Cost()
	}
	return sum
}

// PathFrom returns where the path starts. The path must not be empty.
func PathFrom(path []Segment) track.Position { return path[0].Start() }

// PathTo returns where the path ends. The path must not be empty.
func PathTo(path []Segment) track.Position { return path[len(path)-1].End() }

// PositionAlong walks meters along the path and returns the position reached.
func PositionAlong(path []Segment, meters float64) (track.Position, error) {
	total := TotalLength(path)
	if len(path) == 0 || meters < 0 || meters > total {
		return track.Position{}, fmt.Errorf("distance %.3fm outside path length 0..%.3fm", meters, total)
	}
	if meters == total {
		return PathTo(path), nil
	}
	remaining := meters
	for _, s := range path {
		l := s.Length()
		if remaining <= l {
			if l == 0 {
				return s.Start(), nil
			}
			return s.At(remaining / l), nil
		}
		remaining -= l
	}
	// float drift on the last segment
	return PathTo(path), nil
}
