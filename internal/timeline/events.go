package timeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"train-timeline/internal/routing"
	"train-timeline/internal/track"
)

var (
	ErrEmptyPath   = errors.New("move event needs a non-empty path")
	ErrInvalidSpan = errors.New("event ends before it starts")
)

type EventType string

const (
	TypeDoTrip            EventType = "DoTrip"
	TypeDoStop            EventType = "DoStop"
	TypeDoBlock           EventType = "DoBlock"
	TypeRoute             EventType = "Route"
	TypeDwell             EventType = "Dwell"
	TypeMoveConstant      EventType = "MoveConstant"
	TypeMoveChangingSpeed EventType = "MoveChangingSpeed"
)

// Event is anything scheduled or simulated over a closed time span. The set
// of implementations is closed to this package.
type Event interface {
	TimeFrom() time.Time
	TimeTo() time.Time
	Type() EventType
	event()
}

// PositionEvent is an event that places the train on the track for its span.
type PositionEvent interface {
	Event
	FromPosition() track.Position
	ToPosition() track.Position
	// PositionAt reports where the train is at t, or false outside the span.
	PositionAt(t time.Time) (track.Position, bool)
}

type Span struct {
	Start time.Time
	End   time.Time
}

func NewSpan(from, to time.Time) (Span, error) {
	if to.Before(from) {
		return Span{}, fmt.Errorf("%w: %s > %s", ErrInvalidSpan, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Span{Start: from, End: to}, nil
}

func (s Span) TimeFrom() time.Time     { return s.Start }
func (s Span) TimeTo() time.Time       { return s.End }
func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// elapsedFraction is how far t lies into the span, clamped to 0..1.
func (s Span) elapsedFraction(t time.Time) float64 {
	d := s.Duration()
	if d <= 0 {
		return 1
	}
	f := float64(t.Sub(s.Start)) / float64(d)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

type DoTrip struct {
	Span
	TripID string
}

func NewDoTrip(from, to time.Time, tripID string) (DoTrip, error) {
	s, err := NewSpan(from, to)
	if err != nil {
		return DoTrip{}, err
	}
	return DoTrip{Span: s, TripID: tripID}, nil
}

func (DoTrip) Type() EventType { return TypeDoTrip }
func (DoTrip) event()          {}

type DoStop struct {
	Span
	StopID   string
	Sequence int
}

func NewDoStop(from, to time.Time, stopID string, sequence int) (DoStop, error) {
	s, err := NewSpan(from, to)
	if err != nil {
		return DoStop{}, err
	}
	return DoStop{Span: s, StopID: stopID, Sequence: sequence}, nil
}

func (DoStop) Type() EventType { return TypeDoStop }
func (DoStop) event()          {}

type DoBlock struct {
	Span
	BlockID string
}

func NewDoBlock(from, to time.Time, blockID string) (DoBlock, error) {
	s, err := NewSpan(from, to)
	if err != nil {
		return DoBlock{}, err
	}
	return DoBlock{Span: s, BlockID: blockID}, nil
}

func (DoBlock) Type() EventType { return TypeDoBlock }
func (DoBlock) event()          {}

// Route describes the path chosen between two stops. It does not place the
// train anywhere; the moves that follow it do.
type Route struct {
	Span
	Origin      track.Position
	Destination track.Position
	Path        []routing.Segment
}

func NewRoute(from, to time.Time, origin, destination track.Position, path []routing.Segment) (Route, error) {
	s, err := NewSpan(from, to)
	if err != nil {
		return Route{}, err
	}
	return Route{Span: s, Origin: origin, Destination: destination, Path: path}, nil
}

func (Route) Type() EventType { return TypeRoute }
func (Route) event()          {}

type Dwell struct {
	Span
	Position track.Position
}

func NewDwell(from, to time.Time, p track.Position) (Dwell, error) {
	s, err := NewSpan(from, to)
	if err != nil {
		return Dwell{}, err
	}
	return Dwell{Span: s, Position: p}, nil
}

func (Dwell) Type() EventType                { return TypeDwell }
func (Dwell) event()                         {}
func (d Dwell) FromPosition() track.Position { return d.Position }
func (d Dwell) ToPosition() track.Position   { return d.Position }

func (d Dwell) PositionAt(t time.Time) (track.Position, bool) {
	if !d.Contains(t) {
		return track.Position{}, false
	}
	return d.Position, true
}

// MoveConstant runs the whole path at one speed.
type MoveConstant struct {
	Span
	Path []routing.Segment
}

func NewMoveConstant(from, to time.Time, path []routing.Segment) (MoveConstant, error) {
	if len(path) == 0 {
		return MoveConstant{}, ErrEmptyPath
	}
	s, err := NewSpan(from, to)
	if err != nil {
		return MoveConstant{}, err
	}
	return MoveConstant{Span: s, Path: path}, nil
}

func (MoveConstant) Type() EventType                { return TypeMoveConstant }
func (MoveConstant) event()                         {}
func (m MoveConstant) FromPosition() track.Position { return routing.PathFrom(m.Path) }
func (m MoveConstant) ToPosition() track.Position   { return routing.PathTo(m.Path) }

// Speed in meters per second; zero for an instantaneous move.
func (m MoveConstant) Speed() float64 {
	sec := m.Duration().Seconds()
	if sec <= 0 {
		return 0
	}
	return routing.TotalLength(m.Path) / sec
}

func (m MoveConstant) PositionAt(t time.Time) (track.Position, bool) {
	if !m.Contains(t) {
		return track.Position{}, false
	}
	return positionAlong(m.Path, routing.TotalLength(m.Path)*m.elapsedFraction(t)), true
}

// MoveChangingSpeed ramps speed linearly from SpeedFrom to SpeedTo over the span.
type MoveChangingSpeed struct {
	Span
	SpeedFrom float64
	SpeedTo   float64
	Path      []routing.Segment
}

func NewMoveChangingSpeed(from, to time.Time, speedFrom, speedTo float64, path []routing.Segment) (MoveChangingSpeed, error) {
	if len(path) == 0 {
		return MoveChangingSpeed{}, ErrEmptyPath
	}
	s, err := NewSpan(from, to)
	if err != nil {
		return MoveChangingSpeed{}, err
	}
	return MoveChangingSpeed{Span: s, SpeedFrom: speedFrom, SpeedTo: speedTo, Path: path}, nil
}

func (MoveChangingSpeed) Type() EventType                { return TypeMoveChangingSpeed }
func (MoveChangingSpeed) event()                         {}
func (m MoveChangingSpeed) FromPosition() track.Position { return routing.PathFrom(m.Path) }
func (m MoveChangingSpeed) ToPosition() track.Position   { return routing.PathTo(m.Path) }

// Acceleration in m/s².
func (m MoveChangingSpeed) Acceleration() float64 {
	sec := m.Duration().Seconds()
	if sec <= 0 {
		return 0
	}
	return (m.SpeedTo - m.SpeedFrom) / sec
}

func (m MoveChangingSpeed) PositionAt(t time.Time) (track.Position, bool) {
	if !m.Contains(t) {
		return track.Position{}, false
	}
	total := routing.TotalLength(m.Path)
	if t.Equal(m.End) {
		return m.ToPosition(), true
	}
	el := t.Sub(m.Start).Seconds()
	dist := m.SpeedFrom*el + 0.5*m.Acceleration()*el*el
	return positionAlong(m.Path, math.Min(math.Max(dist, 0), total)), true
}

func positionAlong(path []routing.Segment, meters float64) track.Position {
	p, err := routing.PositionAlong(path, meters)
	if err != nil {
		return routing.PathTo(path)
	}
	return p
}
