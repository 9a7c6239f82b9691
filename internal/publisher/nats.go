package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"train-timeline/internal/timeline"
	"train-timeline/internal/track"
)

type NATSPublisher struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	stream      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to url and makes sure a JetStream stream named
// stream captures every subject published under it.
func NewNATSPublisher(url, stream string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("train-timeline"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := &NATSPublisher{nc: nc, stream: stream, logSubjects: logSubjects, metrics: m}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *NATSPublisher) ensureStream() error {
	js, err := p.nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	p.js = js
	if _, err := js.StreamInfo(p.stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", p.stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:              p.stream,
		Subjects:          []string{p.stream + ".>"},
		Storage:           nats.FileStorage,
		MaxAge:            48 * time.Hour,
		MaxMsgsPerSubject: 1,
		Discard:           nats.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", p.stream, err)
	}
	log.Printf("created jetstream stream %s (%s.>)", p.stream, p.stream)
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is one replay sample of a train.
type PositionMessage struct {
	TrainID   uuid.UUID          `json:"trainId"`
	TripID    string             `json:"tripId,omitempty"`
	RouteID   string             `json:"routeId,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Position  track.Position     `json:"position"`
	Event     timeline.EventType `json:"eventType"`
	Lat       float64            `json:"lat"`
	Lon       float64            `json:"lon"`
	Bearing   float64            `json:"bearing"`
	Progress  float64            `json:"progress"` // fraction of the current trip's scheduled span
	SpeedMps  float64            `json:"speedMps"`
}

// PublishPosition sends msg on <stream>.<route>.<train>. Positions are plain
// core publishes; the stream keeps the latest one per train.
func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	subject := positionSubject(p.stream, msg.RouteID, msg.TrainID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.publish(subject, func() error { return p.nc.Publish(subject, b) })
}

// TimelineMessage is a full day snapshot.
type TimelineMessage struct {
	Day      string            `json:"day"`
	Earliest time.Time         `json:"earliest"`
	Latest   time.Time         `json:"latest"`
	Timeline timeline.Timeline `json:"timeline"`
}

// PublishTimeline stores the day's timeline on <stream>.timeline.<yyyy-mm-dd>
// and waits for the stream to acknowledge it.
func (p *NATSPublisher) PublishTimeline(tl timeline.Timeline) error {
	day := tl.Day.Format("2006-01-02")
	subject := timelineSubject(p.stream, tl.Day)
	b, err := json.Marshal(TimelineMessage{Day: day, Earliest: tl.EarliestTime(), Latest: tl.LatestTime(), Timeline: tl})
	if err != nil {
		return err
	}
	return p.publish(subject, func() error {
		_, err := p.js.Publish(subject, b)
		return err
	})
}

func (p *NATSPublisher) publish(subject string, send func() error) error {
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err := send()
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func positionSubject(stream, routeID string, trainID uuid.UUID) string {
	if routeID == "" {
		routeID = "none"
	}
	return fmt.Sprintf("%s.%s.%s", stream, subjectToken(routeID), trainID)
}

func timelineSubject(stream string, day time.Time) string {
	return fmt.Sprintf("%s.timeline.%s", stream, day.Format("2006-01-02"))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
