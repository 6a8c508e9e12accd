// Package events provides an optional outbound event transport for
// observability: state transitions in the Thermal Guard, Model Manager, and
// Scheduler may be published as CloudEvents-style envelopes to an external
// bus. The core must function identically with this disabled — the Scheduler
// and Model Manager accept a Publisher through SetPublisher (NoopPublisher by
// default), and Thermal Guard transitions reach it through a Subscribe handler.
package events

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Publisher emits a named event with a JSON-serializable payload. It must
// never block the caller meaningfully; implementations should treat delivery
// as best-effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any)
}

// NoopPublisher discards every event. It is the default Publisher so the
// core components function identically whether or not outbound events are
// configured.
type NoopPublisher struct{}

// Publish implements Publisher by doing nothing.
func (NoopPublisher) Publish(ctx context.Context, eventType string, data any) {}

// CloudEventsPublisher sends each event as a CloudEvents envelope to a
// configured HTTP sink. Failures are logged, never returned or propagated to
// callers — publishing is a side channel, not part of the request path.
type CloudEventsPublisher struct {
	client cloudevents.Client
	source string
}

// NewCloudEventsPublisher builds a publisher that POSTs CloudEvents envelopes
// to sinkURL, tagging each event's source with the given identifier (e.g.
// the node's hostname or instance id).
func NewCloudEventsPublisher(sinkURL, source string) (*CloudEventsPublisher, error) {
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(sinkURL))
	if err != nil {
		return nil, err
	}
	return &CloudEventsPublisher{client: client, source: source}, nil
}

// Publish implements Publisher.
func (p *CloudEventsPublisher) Publish(ctx context.Context, eventType string, data any) {
	event := cloudevents.NewEvent()
	event.SetID(eventID())
	event.SetSource(p.source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		log.Printf("events: failed to encode %s: %v", eventType, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if result := p.client.Send(sendCtx, event); cloudevents.IsUndelivered(result) {
		log.Printf("events: failed to deliver %s: %v", eventType, result)
	}
}

var eventIDCounter atomic.Int64

// eventID generates a monotonically increasing id for outbound events
// within this process's lifetime.
func eventID() string {
	n := eventIDCounter.Add(1)
	return time.Now().UTC().Format("20060102T150405.000000000Z") + "-" + strconv.FormatInt(n, 10)
}
