// Package backend defines the contract every company registry integration
// implements, together with the shared pieces they are built from: the
// descriptor, the configuration resolver, the availability evaluator, the
// declarative field normalizer and a throttled HTTP client.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tpgainz/companyatlas/identifier"
)

var (
	ErrCapabilityUnsupported = errors.New("capability not supported")
	ErrMissingConfig         = errors.New("missing configuration")
	ErrInvalidCapability     = errors.New("invalid capability")
)

// Raw is an unmodified record decoded from a registry response.
type Raw = map[string]any

// Normalized holds the canonical fields. Absent fields are not present as
// keys.
type Normalized = map[string]any

const (
	FieldDenomination = "denomination"
	FieldReference    = "reference"
	FieldAddress      = "address"
	FieldBackendName  = "backend_name"
	FieldDataSource   = "data_source"
	FieldCountry      = "country"
)

type Options struct {
	Limit int
	Extra map[string]string
}

func (o Options) LimitOr(def int) int {
	if o.Limit > 0 {
		return o.Limit
	}

	return def
}

// Backend is one registry. Operations must return promptly once ctx is done:
// a search waits for its backend calls to return before it completes.
type Backend interface {
	Descriptor() Descriptor
	SearchByName(ctx context.Context, name string, opts Options) ([]Raw, error)
	SearchByCode(ctx context.Context, code string, codeType identifier.Kind, opts Options) (Raw, error)
	GetDocuments(ctx context.Context, id, documentType string, opts Options) ([]Raw, error)
	GetEvents(ctx context.Context, id, eventType string, opts Options) ([]Raw, error)
	Normalize(raw Raw) Normalized
}

// Constructor builds a backend bound to cfg.
type Constructor func(cfg Config) Backend

// Registrar accepts backend constructors by name.
type Registrar interface {
	Register(name string, ctor Constructor)
}

// Base carries the descriptor, the bound configuration and the field map of
// a backend. Concrete backends embed it and override the operations they
// support.
type Base struct {
	desc       Descriptor
	cfg        Config
	normalizer Normalizer
}

func NewBase(desc Descriptor, cfg Config, normalizer Normalizer) Base {
	return Base{
		desc:       desc,
		cfg:        cfg,
		normalizer: normalizer,
	}
}

func (b *Base) Descriptor() Descriptor {
	return b.desc
}

func (b *Base) Config() Config {
	return b.cfg
}

// Setting resolves key for this backend, falling back to the descriptor
// default.
func (b *Base) Setting(key string) string {
	value, _ := b.cfg.Resolve(b.desc.Name, key, b.desc.ConfigDefaults[key])
	return value
}

// RequireSetting is Setting for keys without which no request can be made.
func (b *Base) RequireSetting(key string) (string, error) {
	value, ok := b.cfg.Resolve(b.desc.Name, key, b.desc.ConfigDefaults[key])
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingConfig, b.cfg.EnvName(b.desc.Name, key))
	}

	return value, nil
}

func (b *Base) Logger() *slog.Logger {
	return slog.Default().With(slog.String("backend", b.desc.Name))
}

func (b *Base) SearchByName(_ context.Context, _ string, _ Options) ([]Raw, error) {
	return nil, nil
}

func (b *Base) SearchByCode(_ context.Context, _ string, _ identifier.Kind, _ Options) (Raw, error) {
	return nil, nil
}

func (b *Base) GetDocuments(_ context.Context, _, _ string, _ Options) ([]Raw, error) {
	return nil, b.Unsupported(CapabilityDocuments)
}

func (b *Base) GetEvents(_ context.Context, _, _ string, _ Options) ([]Raw, error) {
	return nil, b.Unsupported(CapabilityEvents)
}

// Unsupported returns the capability error when the descriptor does not
// declare c, nil otherwise.
func (b *Base) Unsupported(c Capability) error {
	if b.desc.Supports(c) {
		return nil
	}

	return fmt.Errorf("%w: %s does not fetch %s", ErrCapabilityUnsupported, b.desc.Name, c)
}

func (b *Base) Normalize(raw Raw) Normalized {
	return withMetadata(b.normalizer.Apply(raw), b.desc)
}

// Annotate keeps the non-empty values of a document or event entry as they
// are and adds the backend metadata.
func Annotate(desc Descriptor, raw Raw) Normalized {
	result := make(Normalized, len(raw)+3)

	for k, v := range raw {
		if !isEmpty(v) {
			result[k] = v
		}
	}

	return withMetadata(result, desc)
}

func withMetadata(result Normalized, desc Descriptor) Normalized {
	result[FieldBackendName] = desc.Name
	result[FieldDataSource] = desc.Label()

	if desc.CountryCode != "" {
		result[FieldCountry] = desc.CountryCode
	}

	return result
}

// Code parses code and checks it against the kinds a backend accepts. When
// codeType is set it must match the detected kind.
func Code(code string, codeType identifier.Kind, accepted ...identifier.Kind) (identifier.Identifier, bool) {
	id := identifier.Parse(code)
	if !id.Valid() {
		return id, false
	}

	if codeType != "" && codeType != identifier.Unknown && codeType != id.Kind {
		return id, false
	}

	for _, kind := range accepted {
		if kind == id.Kind {
			return id, true
		}
	}

	return id, false
}
