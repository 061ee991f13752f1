// Package lambdaaws serves searches from AWS Lambda and invokes the deployed
// function remotely.
package lambdaaws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Tpgainz/companyatlas/atlas"
	"github.com/Tpgainz/companyatlas/backend"
)

// Input is the event payload. Code, when set, takes precedence over
// Capability and Query.
type Input struct {
	Capability  string `json:"capability"`
	Query       string `json:"query"`
	Code        string `json:"code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Backend     string `json:"backend,omitempty"`
	Raw         bool   `json:"raw,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	// All queries every candidate and returns per backend groups.
	All bool `json:"all,omitempty"`
}

// Searcher is implemented by *atlas.Orchestrator.
type Searcher interface {
	SearchCompanies(ctx context.Context, query string, capability backend.Capability, opts atlas.SearchOptions) atlas.Outcome
	LookupCode(ctx context.Context, code string, opts atlas.SearchOptions) atlas.Outcome
}

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Handler struct {
	searcher Searcher
	s3       S3API
	bucket   string
	timeout  time.Duration
}

type HandlerOption func(*Handler)

// WithS3Upload stores every outcome as JSON in bucket.
func WithS3Upload(client S3API, bucket string) HandlerOption {
	return func(h *Handler) {
		h.s3 = client
		h.bucket = bucket
	}
}

func WithTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

func NewHandler(searcher Searcher, opts ...HandlerOption) *Handler {
	h := &Handler{searcher: searcher}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Handle never returns the search failure as an error: it is part of the
// outcome. Only invalid input and upload failures are errors.
func (h *Handler) Handle(ctx context.Context, in Input) (atlas.Outcome, error) {
	opts := atlas.SearchOptions{
		CountryCode: in.CountryCode,
		BackendName: in.Backend,
		Raw:         in.Raw,
		Limit:       in.Limit,
		Timeout:     h.timeout,
	}

	if in.All {
		opts.Mode = atlas.ModeAll
	}

	var outcome atlas.Outcome

	if in.Code != "" {
		outcome = h.searcher.LookupCode(ctx, in.Code, opts)
	} else {
		capability := backend.CapabilityData

		if in.Capability != "" {
			var err error

			capability, err = backend.ParseCapability(in.Capability)
			if err != nil {
				return atlas.Outcome{}, err
			}
		}

		outcome = h.searcher.SearchCompanies(ctx, in.Query, capability, opts)
	}

	if h.s3 != nil && h.bucket != "" {
		if err := h.upload(ctx, outcome); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

// ObjectKey is where an outcome is stored in the bucket.
func ObjectKey(outcome atlas.Outcome) string {
	return fmt.Sprintf("searches/%s/%s.json", outcome.CreatedAt.UTC().Format("2006-01-02"), outcome.SearchID)
}

func (h *Handler) upload(ctx context.Context, outcome atlas.Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	key := ObjectKey(outcome)

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading outcome to s3: %w", err)
	}

	slog.Info(fmt.Sprintf("Uploaded outcome to s3://%s/%s", h.bucket, key))

	return nil
}
