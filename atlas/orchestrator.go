package atlas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
)

// Recorder persists or forwards finished searches.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

type Orchestrator struct {
	registry  *Registry
	cfg       backend.Config
	recorders []Recorder
	logger    *slog.Logger
}

type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func New(registry *Registry, cfg backend.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		cfg:      cfg,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// call is one backend operation; it returns raw records.
type call func(ctx context.Context, b backend.Backend) ([]backend.Raw, error)

// SearchCompanies runs query against the cheapest available backends for
// capability until one returns a non-empty result. For documents and events
// the query is the company identifier.
func (o *Orchestrator) SearchCompanies(ctx context.Context, query string, capability backend.Capability, opts SearchOptions) Outcome {
	parsed, err := backend.ParseCapability(string(capability))
	if err != nil {
		outcome := o.newOutcome(query, capability)
		outcome.fail(err)
		o.finish(ctx, &outcome, time.Now())

		return outcome
	}

	capability = parsed
	bopts := opts.backendOptions()

	var fn call

	switch capability {
	case backend.CapabilityDocuments:
		fn = func(ctx context.Context, b backend.Backend) ([]backend.Raw, error) {
			return b.GetDocuments(ctx, query, opts.Type, bopts)
		}
	case backend.CapabilityEvents:
		fn = func(ctx context.Context, b backend.Backend) ([]backend.Raw, error) {
			return b.GetEvents(ctx, query, opts.Type, bopts)
		}
	default:
		fn = func(ctx context.Context, b backend.Backend) ([]backend.Raw, error) {
			return b.SearchByName(ctx, query, bopts)
		}
	}

	return o.run(ctx, query, capability, opts, fn)
}

// LookupCode resolves a SIREN, SIRET or RNA through the data backends.
func (o *Orchestrator) LookupCode(ctx context.Context, code string, opts SearchOptions) Outcome {
	id := identifier.Parse(code)

	if strings.TrimSpace(code) != "" && id.Kind == identifier.Unknown {
		outcome := o.newOutcome(code, backend.CapabilityData)
		outcome.fail(fmt.Errorf("%w: %q is not a SIREN, SIRET or RNA", identifier.ErrInvalid, code))
		o.finish(ctx, &outcome, time.Now())

		return outcome
	}

	bopts := opts.backendOptions()

	return o.run(ctx, code, backend.CapabilityData, opts, func(ctx context.Context, b backend.Backend) ([]backend.Raw, error) {
		raw, err := b.SearchByCode(ctx, id.Normalized, id.Kind, bopts)
		if err != nil || len(raw) == 0 {
			return nil, err
		}

		return []backend.Raw{raw}, nil
	})
}

func (o *Orchestrator) newOutcome(query string, capability backend.Capability) Outcome {
	return Outcome{
		SearchID:   uuid.New().String(),
		Capability: capability,
		Query:      query,
		Results:    []backend.Normalized{},
		Errors:     []string{},
		Attempted:  []string{},
		CreatedAt:  time.Now().UTC(),
	}
}

func (o *Orchestrator) run(ctx context.Context, query string, capability backend.Capability, opts SearchOptions, fn call) Outcome {
	start := time.Now()
	outcome := o.newOutcome(query, capability)
	logger := o.logger.With(slog.String("search_id", outcome.SearchID))

	if strings.TrimSpace(query) == "" {
		outcome.fail(ErrEmptyQuery)
		o.finish(ctx, &outcome, start)

		return outcome
	}

	candidates, err := o.candidates(capability, opts)
	if err != nil {
		outcome.fail(err)
		o.finish(ctx, &outcome, start)

		return outcome
	}

	if len(candidates) == 0 {
		outcome.fail(fmt.Errorf("%w for %s", ErrNoBackendAvailable, capability))
		o.finish(ctx, &outcome, start)

		return outcome
	}

	if opts.Mode == ModeAll {
		o.all(ctx, logger, candidates, fn, capability, opts, &outcome)

		if outcome.BackendUsed == "" {
			o.exhausted(ctx, &outcome, capability)
		}

		o.finish(ctx, &outcome, start)

		return outcome
	}

	var (
		winner  backend.Backend
		results []backend.Raw
	)

	if opts.Mode == ModeRace {
		winner, results = o.race(ctx, logger, candidates, fn, opts.timeout(), &outcome)
	} else {
		winner, results = o.sequential(ctx, logger, candidates, fn, opts.timeout(), &outcome)
	}

	if winner == nil {
		o.exhausted(ctx, &outcome, capability)
		o.finish(ctx, &outcome, start)

		return outcome
	}

	desc := winner.Descriptor()
	outcome.BackendUsed = desc.Name
	outcome.Results = convert(winner, results, capability, opts)
	outcome.Total = len(outcome.Results)

	logger.Info(fmt.Sprintf("%s found %d results", desc.Label(), outcome.Total))

	o.finish(ctx, &outcome, start)

	return outcome
}

// exhausted fails outcome once no candidate produced results.
func (o *Orchestrator) exhausted(ctx context.Context, outcome *Outcome, capability backend.Capability) {
	switch {
	case len(outcome.Attempted) == 0:
		outcome.fail(fmt.Errorf("%w for %s", ErrNoBackendAvailable, capability))
	case ctx.Err() != nil:
		outcome.fail(fmt.Errorf("%w: %w", ErrAllBackendsFailed, ctx.Err()))
	default:
		outcome.fail(fmt.Errorf("%w (tried %s)", ErrAllBackendsFailed, strings.Join(outcome.Attempted, ", ")))
	}
}

// convert caps results at the limit and normalizes them unless raw output
// was asked for. Documents and events are annotated, not mapped.
func convert(b backend.Backend, results []backend.Raw, capability backend.Capability, opts SearchOptions) []backend.Normalized {
	if limit := opts.limit(); len(results) > limit {
		results = results[:limit]
	}

	desc := b.Descriptor()
	converted := make([]backend.Normalized, 0, len(results))

	for _, raw := range results {
		switch {
		case opts.Raw:
			converted = append(converted, raw)
		case capability == backend.CapabilityData:
			converted = append(converted, b.Normalize(raw))
		default:
			converted = append(converted, backend.Annotate(desc, raw))
		}
	}

	return converted
}

// candidates returns the available backends supporting capability, ordered
// by cost.
func (o *Orchestrator) candidates(capability backend.Capability, opts SearchOptions) ([]backend.Backend, error) {
	instances := o.registry.Instances(o.cfg)

	if opts.BackendName != "" {
		if err := o.checkNamed(instances, capability, opts.BackendName); err != nil {
			return nil, err
		}
	}

	var candidates []backend.Backend

	for _, b := range instances {
		desc := b.Descriptor()

		if !desc.Supports(capability) {
			continue
		}

		if opts.BackendName != "" && !strings.EqualFold(desc.Name, opts.BackendName) {
			continue
		}

		if opts.CountryCode != "" && !strings.EqualFold(desc.CountryCode, opts.CountryCode) {
			continue
		}

		status := backend.Evaluate(desc, o.cfg)
		if !status.IsAvailable {
			o.logger.Debug(fmt.Sprintf("Service: skipping %s (%s)", desc.Label(), status.Status))
			continue
		}

		candidates = append(candidates, b)
	}

	backend.SortByCost(candidates, capability, backend.Backend.Descriptor)

	return candidates, nil
}

// checkNamed reports why a forced backend cannot serve capability.
func (o *Orchestrator) checkNamed(instances []backend.Backend, capability backend.Capability, name string) error {
	known := make([]string, 0, len(instances))

	for _, b := range instances {
		desc := b.Descriptor()
		known = append(known, desc.Name)

		if !strings.EqualFold(desc.Name, name) {
			continue
		}

		if !desc.Supports(capability) {
			return fmt.Errorf("%w: %s does not fetch %s", backend.ErrCapabilityUnsupported, desc.Name, capability)
		}

		status := backend.Evaluate(desc, o.cfg)
		if !status.IsAvailable {
			missing := append(append([]string{}, status.MissingPackages...), status.MissingConfig...)
			for i, key := range status.MissingConfig {
				missing[len(status.MissingPackages)+i] = o.cfg.EnvName(desc.Name, key)
			}

			return fmt.Errorf("%w: %s is %s (%s)", ErrNoBackendAvailable, desc.Name, status.Status,
				strings.Join(missing, ", "))
		}

		return nil
	}

	return fmt.Errorf("%w %q, available backends: %s", ErrUnknownBackend, name, strings.Join(known, ", "))
}

func (o *Orchestrator) sequential(ctx context.Context, logger *slog.Logger, candidates []backend.Backend, fn call,
	timeout time.Duration, outcome *Outcome,
) (backend.Backend, []backend.Raw) {
	for _, b := range candidates {
		if ctx.Err() != nil {
			break
		}

		label := b.Descriptor().Label()
		outcome.Attempted = append(outcome.Attempted, b.Descriptor().Name)

		logger.Info(fmt.Sprintf("Service: Trying %s service...", label))

		results, err := trial(ctx, b, fn, timeout)
		if err != nil {
			logger.Warn(fmt.Sprintf("%s search failed: %v", label, err))
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", b.Descriptor().Name, err))

			continue
		}

		if len(results) == 0 {
			logger.Info(fmt.Sprintf("%s returned no results", label))
			continue
		}

		return b, results
	}

	return nil, nil
}

var errRaceWon = errors.New("race won")

func (o *Orchestrator) race(ctx context.Context, logger *slog.Logger, candidates []backend.Backend, fn call,
	timeout time.Duration, outcome *Outcome,
) (backend.Backend, []backend.Raw) {
	var (
		mu      sync.Mutex
		winner  backend.Backend
		results []backend.Raw
	)

	for _, b := range candidates {
		outcome.Attempted = append(outcome.Attempted, b.Descriptor().Name)
	}

	logger.Info(fmt.Sprintf("Service: Racing %d services...", len(candidates)))

	g, gctx := errgroup.WithContext(ctx)

	for _, b := range candidates {
		g.Go(func() error {
			found, err := trial(gctx, b, fn, timeout)

			mu.Lock()
			defer mu.Unlock()

			if winner != nil {
				return nil
			}

			label := b.Descriptor().Label()

			if err != nil {
				logger.Warn(fmt.Sprintf("%s search failed: %v", label, err))
				outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", b.Descriptor().Name, err))

				return nil
			}

			if len(found) == 0 {
				return nil
			}

			winner, results = b, found

			return errRaceWon
		})
	}

	_ = g.Wait()

	return winner, results
}

// all queries every candidate concurrently and keeps one group per backend,
// in cost order. The cheapest backend with results is reported as used.
func (o *Orchestrator) all(ctx context.Context, logger *slog.Logger, candidates []backend.Backend, fn call,
	capability backend.Capability, opts SearchOptions, outcome *Outcome,
) {
	groups := make([]Group, len(candidates))

	logger.Info(fmt.Sprintf("Service: Querying %d services...", len(candidates)))

	var g errgroup.Group

	for i, b := range candidates {
		outcome.Attempted = append(outcome.Attempted, b.Descriptor().Name)

		g.Go(func() error {
			desc := b.Descriptor()
			started := time.Now()

			found, err := trial(ctx, b, fn, opts.timeout())

			group := Group{
				Backend:    desc.Name,
				DataSource: desc.Label(),
				Results:    []backend.Normalized{},
				DurationMs: time.Since(started).Milliseconds(),
			}

			if err != nil {
				group.Error = err.Error()
			} else {
				group.Results = convert(b, found, capability, opts)
				group.Total = len(group.Results)
			}

			groups[i] = group

			return nil
		})
	}

	_ = g.Wait()

	for _, group := range groups {
		switch {
		case group.Error != "":
			logger.Warn(fmt.Sprintf("%s search failed: %s", group.DataSource, group.Error))
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %s", group.Backend, group.Error))
		case group.Total == 0:
			logger.Info(fmt.Sprintf("%s returned no results", group.DataSource))
		default:
			logger.Info(fmt.Sprintf("%s found %d results in %dms", group.DataSource, group.Total, group.DurationMs))

			if outcome.BackendUsed == "" {
				outcome.BackendUsed = group.Backend
			}

			outcome.Results = append(outcome.Results, group.Results...)
		}
	}

	outcome.Groups = groups
	outcome.Total = len(outcome.Results)
}

// trial runs fn against b under its own deadline and turns panics into
// errors.
func trial(ctx context.Context, b backend.Backend, fn call, timeout time.Duration) (results []backend.Raw, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		records []backend.Raw
		err     error
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Debug("backend panic", "backend", b.Descriptor().Name, "stack", string(debug.Stack()))
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()

		records, err := fn(ctx, b)
		done <- result{records: records, err: err}
	}()

	select {
	case r := <-done:
		return r.records, r.err
	case <-ctx.Done():
	}

	// The backend sees the cancellation through ctx; wait for it so no call
	// outlives the search.
	cancel()
	<-done

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("timed out after %s", timeout)
	}

	return nil, ctx.Err()
}

func (o *Orchestrator) finish(ctx context.Context, outcome *Outcome, start time.Time) {
	outcome.Duration = time.Since(start)
	outcome.DurationMs = outcome.Duration.Milliseconds()

	if outcome.Err != nil {
		o.logger.Error(outcome.Error, slog.String("search_id", outcome.SearchID))
	}

	// Recording must not be cut short by the search having been cancelled.
	recordCtx := context.WithoutCancel(ctx)

	for _, r := range o.recorders {
		if err := r.Record(recordCtx, *outcome); err != nil {
			o.logger.Warn(fmt.Sprintf("failed to record search: %v", err), slog.String("search_id", outcome.SearchID))
		}
	}
}

// BackendFilter narrows Backends. Zero fields match everything.
type BackendFilter struct {
	Continent   string
	CountryCode string
	Capability  backend.Capability
	Search      string
}

// Backends evaluates every registered backend and returns the statuses that
// match filter, grouped by continent then country.
func (o *Orchestrator) Backends(_ context.Context, filter BackendFilter) []backend.Status {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	var statuses []backend.Status

	for _, b := range o.registry.Instances(o.cfg) {
		desc := b.Descriptor()

		if filter.Continent != "" && !strings.EqualFold(desc.Continent, filter.Continent) {
			continue
		}

		if filter.CountryCode != "" && !strings.EqualFold(desc.CountryCode, filter.CountryCode) {
			continue
		}

		if filter.Capability != "" && !desc.Supports(filter.Capability) {
			continue
		}

		if search != "" &&
			!strings.Contains(strings.ToLower(desc.Name), search) &&
			!strings.Contains(strings.ToLower(desc.DisplayName), search) {
			continue
		}

		statuses = append(statuses, backend.Evaluate(desc, o.cfg))
	}

	slices.SortStableFunc(statuses, func(a, b backend.Status) int {
		if c := strings.Compare(a.Descriptor.Continent, b.Descriptor.Continent); c != 0 {
			return c
		}

		return strings.Compare(a.Descriptor.CountryCode, b.Descriptor.CountryCode)
	})

	return statuses
}
