package timeline

import (
	"encoding/json"
	"time"

	"train-timeline/internal/routing"
	"train-timeline/internal/track"
)

type spanJSON struct {
	EventType EventType `json:"eventType"`
	TimeFrom  time.Time `json:"timeFrom"`
	TimeTo    time.Time `json:"timeTo"`
}

func header(e Event) spanJSON {
	return spanJSON{EventType: e.Type(), TimeFrom: e.TimeFrom(), TimeTo: e.TimeTo()}
}

func (e DoTrip) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		TripID string `json:"tripId"`
	}{header(e), e.TripID})
}

func (e DoStop) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		StopID       string `json:"stopId"`
		StopSequence int    `json:"stopSequence"`
	}{header(e), e.StopID, e.Sequence})
}

func (e DoBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		BlockID string `json:"blockId"`
	}{header(e), e.BlockID})
}

func (e Route) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		From track.Position    `json:"from"`
		To   track.Position    `json:"to"`
		Path []routing.Segment `json:"path"`
	}{header(e), e.Origin, e.Destination, e.Path})
}

func (e Dwell) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		DwellPosition track.Position `json:"dwellPosition"`
	}{header(e), e.Position})
}

func (e MoveConstant) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		FromPosition track.Position    `json:"fromPosition"`
		ToPosition   track.Position    `json:"toPosition"`
		Speed        float64           `json:"speed"`
		Path         []routing.Segment `json:"path"`
	}{header(e), e.FromPosition(), e.ToPosition(), e.Speed(), e.Path})
}

func (e MoveChangingSpeed) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		spanJSON
		FromPosition track.Position    `json:"fromPosition"`
		ToPosition   track.Position    `json:"toPosition"`
		SpeedFrom    float64           `json:"speedFrom"`
		SpeedTo      float64           `json:"speedTo"`
		Acceleration float64           `json:"acceleration"`
		Path         []routing.Segment `json:"path"`
	}{header(e), e.FromPosition(), e.ToPosition(), e.SpeedFrom, e.SpeedTo, e.Acceleration(), e.Path})
}
