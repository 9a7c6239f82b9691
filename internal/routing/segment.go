package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"train-timeline/internal/track"
)

var (
	ErrInvalidSegmentRange   = errors.New("segment offsets outside 0..1")
	ErrNoEncompassingSegment = errors.New("no segment encompasses position")
	ErrUnknownEndpoint       = errors.New("unknown route endpoint")
	ErrNoPathFound           = errors.New("no path found")
)

// ContraflowPenalty multiplies the cost of running a one-way track backwards.
const ContraflowPenalty = 1.5

// Segment is a directed traversal of one way between two fractional offsets
// measured along the way's own direction. From > To means the train runs
// from ToNode towards FromNode.
type Segment struct {
	Way  *track.Way
	From float64
	To   float64
}

func NewSegment(way *track.Way, from, to float64) (Segment, error) {
	if !inUnit(from) || !inUnit(to) {
		return Segment{}, fmt.Errorf("%w: got %v..%v on way %s", ErrInvalidSegmentRange, from, to, way.ID)
	}
	return Segment{Way: way, From: from, To: to}, nil
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

func (s Segment) WayID() uuid.UUID { return s.Way.ID }

// Lo and Hi bound the covered range regardless of direction.
func (s Segment) Lo() float64 { return math.Min(s.From, s.To) }
func (s Segment) Hi() float64 { return math.Max(s.From, s.To) }

func (s Segment) Encompasses(fraction float64) bool {
	return fraction >= s.Lo() && fraction <= s.Hi()
}

// Contraflow reports a traversal against the way's direction. Bidirectional
// ways never count as contraflow.
func (s Segment) Contraflow() bool {
	return s.From > s.To && !s.Way.IsBidirectional
}

func (s Segment) Covered() float64 { return math.Abs(s.To - s.From) }

// Length in meters.
func (s Segment) Length() float64 { return s.Way.Length * s.Covered() }

// Cost is the routing weight: seconds at line speed, penalised for contraflow.
func (s Segment) Cost() float64 {
	c := s.Length() / s.Way.MaxSpeedMPS()
	if s.Contraflow() {
		c *= ContraflowPenalty
	}
	return c
}

// Duration is the traversal time at the way's max speed.
func (s Segment) Duration() time.Duration {
	sec := s.Length() / s.Way.MaxSpeedMPS()
	return time.Duration(math.Round(sec * float64(time.Second)))
}

func (s Segment) WithFrom(from float64) (Segment, error) { return NewSegment(s.Way, from, s.To) }
func (s Segment) WithTo(to float64) (Segment, error)     { return NewSegment(s.Way, s.From, to) }

// Start and End are the segment's endpoints, snapped to nodes at the way's ends.
func (s Segment) Start() track.Position { return wayPosition(s.Way, s.From) }
func (s Segment) End() track.Position   { return wayPosition(s.Way, s.To) }

// At returns the position reached after covering t (0..1) of the segment.
func (s Segment) At(t float64) track.Position {
	return wayPosition(s.Way, s.From+(s.To-s.From)*t)
}

func wayPosition(w *track.Way, f float64) track.Position {
	switch {
	case f <= 0:
		return track.AtNode(w.FromNode)
	case f >= 1:
		return track.AtNode(w.ToNode)
	}
	return track.AlongWay(w.ID, f)
}

func (s Segment) String() string {
	return fmt.Sprintf("%s[%.4f->%.4f]", s.Way.ID, s.From, s.To)
}

func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		WayID uuid.UUID `json:"wayId"`
		From  float64   `json:"from"`
		To    float64   `json:"to"`
	}{s.Way.ID, s.From, s.To})
}
