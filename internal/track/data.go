package track

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Data is an immutable snapshot of the track topology. Every record is keyed
// by id and refers to other records only through ids.
type Data struct {
	Systems          map[uuid.UUID]System
	Nodes            map[uuid.UUID]Node
	Ways             map[uuid.UUID]Way
	BufferStops      map[uuid.UUID]struct{}
	Crossings        map[uuid.UUID]struct{}
	Milestones       map[uuid.UUID]Milestone
	RailwayCrossings map[uuid.UUID]RailwayCrossing
	StopPositions    map[uuid.UUID]StopPosition
	Switches         map[uuid.UUID]Switch
}

type System struct {
	ID     uuid.UUID
	Name   string
	Suffix string
}

type Node struct {
	ID       uuid.UUID
	Point    orb.Point // lon, lat
	SystemID uuid.UUID
	OSMID    string
}

type Way struct {
	ID              uuid.UUID
	FromNode        uuid.UUID
	ToNode          uuid.UUID
	Nodes           []uuid.UUID // ordered, may or may not repeat the endpoints
	Elevation       Elevation
	Service         Service
	MaxSpeed        int // km/h
	IsATC           bool
	IsBidirectional bool
	Length          float64 // meters
	OSMID           string
}

// MaxSpeedMPS returns the way's speed limit in meters per second.
func (w *Way) MaxSpeedMPS() float64 { return float64(w.MaxSpeed) / 3.6 }

type Milestone struct {
	ID          uuid.UUID
	Description string
}

// RailwayCrossing is a diamond: two pairs of ways that cross at one node.
type RailwayCrossing struct {
	ID       uuid.UUID
	WayPairs [2][2]uuid.UUID
}

type StopPosition struct {
	ID     uuid.UUID // node id
	Ref    string
	GTFSID string // empty when the stop position is not in the timetable
}

type Switch struct {
	ID          uuid.UUID
	Ref         string
	Type        SwitchType
	TurnoutSide TurnoutSide
	CommonWay   uuid.UUID
	LeftWay     uuid.UUID
	RightWay    uuid.UUID
}

// NewData returns an empty snapshot with every map allocated.
func NewData() *Data {
	return &Data{
		Systems:          make(map[uuid.UUID]System),
		Nodes:            make(map[uuid.UUID]Node),
		Ways:             make(map[uuid.UUID]Way),
		BufferStops:      make(map[uuid.UUID]struct{}),
		Crossings:        make(map[uuid.UUID]struct{}),
		Milestones:       make(map[uuid.UUID]Milestone),
		RailwayCrossings: make(map[uuid.UUID]RailwayCrossing),
		StopPositions:    make(map[uuid.UUID]StopPosition),
		Switches:         make(map[uuid.UUID]Switch),
	}
}

// SortedWayIDs returns way ids in a stable order so graph construction does
// not depend on map iteration.
func (d *Data) SortedWayIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.Ways))
	for id := range d.Ways {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// StopResolver maps GTFS stop ids to track positions.
type StopResolver interface {
	Resolve(stopID string) (Position, bool)
}

type stopIndex map[string]Position

func (s stopIndex) Resolve(stopID string) (Position, bool) {
	p, ok := s[stopID]
	return p, ok
}

// StopResolver indexes the snapshot's stop positions by GTFS stop id.
func (d *Data) StopResolver() StopResolver {
	idx := make(stopIndex, len(d.StopPositions))
	for _, sp := range d.StopPositions {
		if sp.GTFSID == "" {
			continue
		}
		idx[sp.GTFSID] = AtNode(sp.ID)
	}
	return idx
}

type Elevation uint8

const (
	ElevationTunnel Elevation = iota + 1
	ElevationCutting
	ElevationAtGrade
	ElevationViaduct
	ElevationBridge
)

func (e Elevation) String() string {
	switch e {
	case ElevationTunnel:
		return "tunnel"
	case ElevationCutting:
		return "cutting"
	case ElevationAtGrade:
		return "at_grade"
	case ElevationViaduct:
		return "viaduct"
	case ElevationBridge:
		return "bridge"
	}
	return "unknown"
}

func ParseElevation(s string) (Elevation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tunnel":
		return ElevationTunnel, nil
	case "cutting":
		return ElevationCutting, nil
	case "at_grade", "at-grade":
		return ElevationAtGrade, nil
	case "viaduct":
		return ElevationViaduct, nil
	case "bridge":
		return ElevationBridge, nil
	}
	return 0, fmt.Errorf("unknown way elevation %q", s)
}

type Service uint8

const (
	ServiceMainline Service = iota + 1
	ServiceCrossover
	ServiceSiding
	ServiceYard
	ServiceSpur
)

func (s Service) String() string {
	switch s {
	case ServiceMainline:
		return "mainline"
	case ServiceCrossover:
		return "crossover"
	case ServiceSiding:
		return "siding"
	case ServiceYard:
		return "yard"
	case ServiceSpur:
		return "spur"
	}
	return "unknown"
}

func ParseService(s string) (Service, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainline":
		return ServiceMainline, nil
	case "crossover":
		return ServiceCrossover, nil
	case "siding":
		return ServiceSiding, nil
	case "yard":
		return ServiceYard, nil
	case "spur":
		return ServiceSpur, nil
	}
	return 0, fmt.Errorf("unknown way service %q", s)
}

type SwitchType uint8

const (
	SwitchDirect SwitchType = iota + 1
	SwitchField
	SwitchManual
)

func ParseSwitchType(s string) (SwitchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return SwitchDirect, nil
	case "field":
		return SwitchField, nil
	case "manual":
		return SwitchManual, nil
	}
	return 0, fmt.Errorf("unknown switch type %q", s)
}

type TurnoutSide uint8

const (
	TurnoutLeft TurnoutSide = iota + 1
	TurnoutRight
	TurnoutWye
)

func ParseTurnoutSide(s string) (TurnoutSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return TurnoutLeft, nil
	case "right":
		return TurnoutRight, nil
	case "wye", "y", "fork":
		return TurnoutWye, nil
	}
	return 0, fmt.Errorf("unknown switch turnout side %q", s)
}
