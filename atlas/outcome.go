package atlas

import (
	"errors"
	"time"

	"github.com/Tpgainz/companyatlas/backend"
)

var (
	ErrEmptyQuery         = errors.New("query must not be empty")
	ErrUnknownBackend     = errors.New("unknown backend")
	ErrNoBackendAvailable = errors.New("no backend available")
	ErrAllBackendsFailed  = errors.New("no backend returned results")
)

// Outcome is the result of one search. BackendUsed is set on success and
// Error on failure; Errors lists every backend failure as "name: message".
type Outcome struct {
	SearchID    string               `json:"search_id"`
	Capability  backend.Capability   `json:"capability"`
	Query       string               `json:"query"`
	Results     []backend.Normalized `json:"results"`
	Total       int                  `json:"total"`
	BackendUsed string               `json:"backend_used,omitempty"`
	Error       string               `json:"error,omitempty"`
	Errors      []string             `json:"errors"`
	Attempted   []string             `json:"attempted"`
	Groups      []Group              `json:"groups,omitempty"`
	DurationMs  int64                `json:"duration_ms"`
	CreatedAt   time.Time            `json:"created_at"`

	Duration time.Duration `json:"-"`
	Err      error         `json:"-"`
}

// Group is the answer of a single backend when every candidate is queried.
type Group struct {
	Backend    string               `json:"backend"`
	DataSource string               `json:"data_source"`
	Results    []backend.Normalized `json:"results"`
	Total      int                  `json:"total"`
	DurationMs int64                `json:"duration_ms"`
	Error      string               `json:"error,omitempty"`
}

func (o *Outcome) OK() bool {
	return o.BackendUsed != "" && o.Err == nil
}

func (o *Outcome) fail(err error) {
	o.Err = err
	o.Error = err.Error()
}

type Mode int

const (
	// ModeSequential tries candidates one at a time in cost order.
	ModeSequential Mode = iota
	// ModeRace runs every candidate at once; the first non-empty result wins.
	ModeRace
	// ModeAll runs every candidate and keeps each backend's results in
	// Outcome.Groups.
	ModeAll
)

const (
	DefaultLimit   = 20
	DefaultTimeout = 10 * time.Second
)

type SearchOptions struct {
	CountryCode string
	BackendName string
	Limit       int
	Raw         bool
	Mode        Mode
	Timeout     time.Duration
	// Type narrows documents and events, e.g. "comptes" or "modification".
	Type  string
	Extra map[string]string
}

func (o SearchOptions) limit() int {
	if o.Limit > 0 {
		return o.Limit
	}

	return DefaultLimit
}

func (o SearchOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}

	return DefaultTimeout
}

func (o SearchOptions) backendOptions() backend.Options {
	return backend.Options{Limit: o.limit(), Extra: o.Extra}
}
