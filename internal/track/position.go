package track

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type PositionKind uint8

const (
	KindNode PositionKind = iota + 1
	KindWay
)

// Position is a location on the track network, either exactly at a node or
// at a fraction along a way measured from the way's FromNode. Positions are
// plain values: two positions are the same location iff they compare equal.
type Position struct {
	Kind     PositionKind
	Node     uuid.UUID
	Way      uuid.UUID
	Fraction float64
}

func AtNode(id uuid.UUID) Position {
	return Position{Kind: KindNode, Node: id}
}

func AlongWay(id uuid.UUID, fraction float64) Position {
	return Position{Kind: KindWay, Way: id, Fraction: fraction}
}

func (p Position) IsNode() bool { return p.Kind == KindNode }

func (p Position) IsZero() bool { return p.Kind == 0 }

func (p Position) String() string {
	switch p.Kind {
	case KindNode:
		return fmt.Sprintf("node(%s)", p.Node)
	case KindWay:
		return fmt.Sprintf("way(%s@%.4f)", p.Way, p.Fraction)
	default:
		return "position(none)"
	}
}

func (p Position) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindNode:
		return json.Marshal(struct {
			NodeID uuid.UUID `json:"nodeId"`
		}{p.Node})
	case KindWay:
		return json.Marshal(struct {
			WayID    uuid.UUID `json:"wayId"`
			Position float64   `json:"position"`
		}{p.Way, p.Fraction})
	default:
		return []byte("null"), nil
	}
}
