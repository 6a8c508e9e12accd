package events

import (
	"context"
	"testing"
)

func TestNoopPublisher_NeverPanics(t *testing.T) {
	var p Publisher = NoopPublisher{}
	p.Publish(context.Background(), "thermal.state_changed", map[string]string{"state": "THROTTLED"})
}

func TestNewCloudEventsPublisher_BuildsClient(t *testing.T) {
	p, err := NewCloudEventsPublisher("http://127.0.0.1:0/events", "tutu-test-node")
	if err != nil {
		t.Fatalf("NewCloudEventsPublisher() error: %v", err)
	}
	if p.source != "tutu-test-node" {
		t.Errorf("source = %q, want tutu-test-node", p.source)
	}
}

func TestEventID_IsUnique(t *testing.T) {
	a := eventID()
	b := eventID()
	if a == b {
		t.Errorf("eventID() returned the same value twice: %q", a)
	}
}
