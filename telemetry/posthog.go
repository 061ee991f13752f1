// Package telemetry forwards finished searches to PostHog and to an optional
// completion webhook.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"

	"github.com/Tpgainz/companyatlas/atlas"
)

const (
	EventSearchCompleted = "search_completed"
	DefaultEndpoint      = "https://eu.i.posthog.com"
)

var _ atlas.Recorder = (*Tracker)(nil)

// Tracker captures one PostHog event per search. A Tracker built without an
// API key does nothing.
type Tracker struct {
	client     posthog.Client
	distinctID string
}

// NewTracker returns a disabled tracker when apiKey is empty.
func NewTracker(apiKey, endpoint string) (*Tracker, error) {
	if apiKey == "" {
		return &Tracker{}, nil
	}

	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("creating posthog client: %w", err)
	}

	return NewTrackerWithClient(client), nil
}

func NewTrackerWithClient(client posthog.Client) *Tracker {
	return &Tracker{
		client:     client,
		distinctID: installID(),
	}
}

// installID is stable per host and does not reveal the host name.
func installID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("companyatlas:"+host)).String()
}

func (t *Tracker) Enabled() bool {
	return t.client != nil
}

func (t *Tracker) Record(_ context.Context, outcome atlas.Outcome) error {
	if !t.Enabled() {
		return nil
	}

	props := posthog.NewProperties().
		Set("search_id", outcome.SearchID).
		Set("capability", string(outcome.Capability)).
		Set("backend_used", outcome.BackendUsed).
		Set("total", outcome.Total).
		Set("attempted", len(outcome.Attempted)).
		Set("failures", len(outcome.Errors)).
		Set("success", outcome.OK()).
		Set("duration_ms", outcome.Duration.Milliseconds())

	return t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      EventSearchCompleted,
		Properties: props,
	})
}

// Close flushes queued events.
func (t *Tracker) Close() error {
	if !t.Enabled() {
		return nil
	}

	if err := t.client.Close(); err != nil {
		slog.Warn(fmt.Sprintf("posthog close failed: %v", err))
		return err
	}

	return nil
}
