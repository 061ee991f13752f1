package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Tpgainz/companyatlas/atlas"
	"github.com/Tpgainz/companyatlas/backend"
)

// Query is one line of a batch input file. A line may carry a caller
// reference after "#!#", which is echoed back with the outcome.
type Query struct {
	Text string
	Ref  string
}

// ReadQueries reads one query per line, skipping blank lines.
func ReadQueries(r io.Reader) ([]Query, error) {
	var queries []Query

	scanner := bufio.NewScanner(r)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var ref string

		if before, after, ok := strings.Cut(text, "#!#"); ok {
			text = strings.TrimSpace(before)
			ref = strings.TrimSpace(after)
		}

		if text == "" {
			return nil, fmt.Errorf("%w %d: empty query before reference %q", ErrInvalidQueryLine, line, ref)
		}

		queries = append(queries, Query{Text: text, Ref: ref})
	}

	return queries, scanner.Err()
}

type BatchResult struct {
	Ref     string        `json:"ref,omitempty"`
	Outcome atlas.Outcome `json:"outcome"`
}

// RunBatch runs the queries with at most concurrency searches in flight and
// returns the outcomes in input order.
func RunBatch(ctx context.Context, o *atlas.Orchestrator, queries []Query, capability backend.Capability,
	opts atlas.SearchOptions, concurrency int,
) []BatchResult {
	results := make([]BatchResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for i, q := range queries {
		g.Go(func() error {
			var outcome atlas.Outcome

			if capability == codeCapability {
				outcome = o.LookupCode(gctx, q.Text, opts)
			} else {
				outcome = o.SearchCompanies(gctx, q.Text, capability, opts)
			}

			results[i] = BatchResult{Ref: q.Ref, Outcome: outcome}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// codeCapability selects LookupCode in batch mode.
const codeCapability backend.Capability = "code"
