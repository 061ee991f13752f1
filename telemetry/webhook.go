package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tpgainz/companyatlas/atlas"
)

var _ atlas.Recorder = (*Webhook)(nil)

// Webhook notifies an HTTP endpoint when a search completes.
type Webhook struct {
	url        string
	httpClient *http.Client
}

type completionPayload struct {
	SearchID    string `json:"searchId"`
	Query       string `json:"query"`
	Capability  string `json:"capability"`
	BackendUsed string `json:"backendUsed,omitempty"`
	Total       int    `json:"total"`
	Error       string `json:"error,omitempty"`
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Record(ctx context.Context, outcome atlas.Outcome) error {
	if w.url == "" {
		slog.Debug("Skipping search completion API call: url is empty")
		return nil
	}

	jsonData, err := json.Marshal(completionPayload{
		SearchID:    outcome.SearchID,
		Query:       outcome.Query,
		Capability:  string(outcome.Capability),
		BackendUsed: outcome.BackendUsed,
		Total:       outcome.Total,
		Error:       outcome.Error,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	slog.Info(fmt.Sprintf("Calling search completion API: %s", w.url))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search completion API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("search completion API call failed: status %d", resp.StatusCode)
	}

	slog.Info(fmt.Sprintf("Search completion API response successful (status: %d)", resp.StatusCode))

	return nil
}
