package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpgainz/companyatlas/identifier"
)

func noEnv(string) (string, bool) {
	return "", false
}

func TestSortByCost(t *testing.T) {
	descs := []Descriptor{
		{Name: "B", RequestCost: map[Capability]Cost{CapabilityData: Paid(5)}},
		{Name: "A", RequestCost: map[Capability]Cost{CapabilityData: Free()}},
		{Name: "C", RequestCost: map[Capability]Cost{CapabilityData: Free()}},
	}

	SortByCost(descs, CapabilityData, func(d Descriptor) Descriptor { return d })

	names := []string{descs[0].Name, descs[1].Name, descs[2].Name}
	assert.Equal(t, []string{"A", "C", "B"}, names)
}

func TestSortByCostNumericAndUndeclared(t *testing.T) {
	descs := []Descriptor{
		{Name: "none"},
		{Name: "ten", RequestCost: map[Capability]Cost{CapabilityEvents: Paid(10)}},
		{Name: "one", RequestCost: map[Capability]Cost{CapabilityEvents: Paid(1)}},
		{Name: "free", RequestCost: map[Capability]Cost{CapabilityEvents: Free()}},
		{Name: "one-bis", RequestCost: map[Capability]Cost{CapabilityEvents: Paid(1)}},
	}

	SortByCost(descs, CapabilityEvents, func(d Descriptor) Descriptor { return d })

	var names []string
	for _, d := range descs {
		names = append(names, d.Name)
	}

	assert.Equal(t, []string{"free", "one", "one-bis", "ten", "none"}, names)
}

func TestCostJSON(t *testing.T) {
	free, err := Free().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"free"`, string(free))

	paid, err := Paid(2.5).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `2.5`, string(paid))
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" Documents ")
	require.NoError(t, err)
	assert.Equal(t, CapabilityDocuments, c)

	_, err = ParseCapability("officers")
	require.ErrorIs(t, err, ErrInvalidCapability)
	assert.Equal(t, `invalid capability "officers": must be data, documents or events`, err.Error())
}

func TestConfigResolveOrder(t *testing.T) {
	env := map[string]string{
		"COMPANYATLAS_INSEE_API_KEY":  "from-env",
		"COMPANYATLAS_INSEE_BASE_URL": "https://env.example",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := NewConfig(map[string]map[string]string{
		"INSEE": {"API_KEY": "explicit"},
	}, WithLookupEnv(lookup))

	v, ok := cfg.Resolve("insee", "api_key", "default")
	assert.True(t, ok)
	assert.Equal(t, "explicit", v)

	v, ok = cfg.Resolve("insee", "base_url", "https://default.example")
	assert.True(t, ok)
	assert.Equal(t, "https://env.example", v)

	v, ok = cfg.Resolve("insee", "dataset", "sirene")
	assert.True(t, ok)
	assert.Equal(t, "sirene", v)

	_, ok = cfg.Resolve("insee", "secret", "")
	assert.False(t, ok)
}

func TestConfigDoesNotAliasInput(t *testing.T) {
	input := map[string]map[string]string{"pappers": {"api_key": "a"}}
	cfg := NewConfig(input, WithLookupEnv(noEnv))

	input["pappers"]["api_key"] = "b"

	v, _ := cfg.Resolve("pappers", "api_key", "")
	assert.Equal(t, "a", v)
}

func TestConfigPrefix(t *testing.T) {
	cfg := NewConfig(nil, WithPrefix("atlas"), WithLookupEnv(noEnv))
	assert.Equal(t, "ATLAS_SOCIETECOM_API_SECRET", cfg.EnvName("societecom", "api_secret"))
}

func TestEvaluate(t *testing.T) {
	RegisterProbe("test_probe_ok", func() error { return nil })
	RegisterProbe("test_probe_broken", func() error { return errors.New("not installed") })

	desc := Descriptor{
		Name:           "demo",
		ConfigKeys:     []string{"api_key", "base_url"},
		ConfigDefaults: map[string]string{"base_url": "https://example.com"},
	}

	t.Run("missing config", func(t *testing.T) {
		status := Evaluate(desc, NewConfig(nil, WithLookupEnv(noEnv)))

		assert.False(t, status.IsAvailable)
		assert.Equal(t, StatusMissingConfig, status.Status)
		assert.Equal(t, []string{"api_key"}, status.MissingConfig)
		assert.True(t, status.Config["base_url"])
	})

	t.Run("available", func(t *testing.T) {
		cfg := NewConfig(map[string]map[string]string{"demo": {"api_key": "k"}}, WithLookupEnv(noEnv))
		status := Evaluate(desc, cfg)

		assert.True(t, status.IsAvailable)
		assert.Equal(t, StatusAvailable, status.Status)
		assert.Empty(t, status.MissingConfig)
	})

	t.Run("missing packages wins over missing config", func(t *testing.T) {
		withPkgs := desc
		withPkgs.RequiredPackages = []string{"test-probe-ok", "test_probe_broken", "never_registered"}

		status := Evaluate(withPkgs, NewConfig(nil, WithLookupEnv(noEnv)))

		assert.Equal(t, StatusMissingPackages, status.Status)
		assert.Equal(t, []string{"test_probe_broken", "never_registered"}, status.MissingPackages)
		assert.True(t, status.Packages["test-probe-ok"])
	})
}

func TestLookup(t *testing.T) {
	raw := Raw{
		"siret": "73282932000074",
		"uniteLegale": map[string]any{
			"denominationUniteLegale": "LOREAL",
			"empty":                   nil,
		},
		"periodes": []any{
			map[string]any{"activite": "20.42Z"},
		},
	}

	v, ok := Lookup(raw, "uniteLegale.denominationUniteLegale")
	assert.True(t, ok)
	assert.Equal(t, "LOREAL", v)

	v, ok = Lookup(raw, "periodes.0.activite")
	assert.True(t, ok)
	assert.Equal(t, "20.42Z", v)

	_, ok = Lookup(raw, "periodes.3.activite")
	assert.False(t, ok)

	_, ok = Lookup(raw, "uniteLegale.empty")
	assert.False(t, ok)

	_, ok = Lookup(raw, "siret.nested")
	assert.False(t, ok)
}

func TestNormalizerFirstNonNilWins(t *testing.T) {
	n := Normalizer{
		Fields: FieldMap{
			FieldReference: {"rna", "siret", "siren"},
		},
	}

	got := n.Apply(Raw{"rna": nil, "siret": "", "siren": "732829320"})
	assert.Equal(t, Normalized{FieldReference: "732829320"}, got)

	got = n.Apply(Raw{"rna": "W75123456", "siret": "73282932000074"})
	assert.Equal(t, Normalized{FieldReference: "W75123456"}, got)
}

func TestNormalizerOverrideWins(t *testing.T) {
	n := Normalizer{
		Fields: FieldMap{
			FieldAddress: {"adresse"},
		},
		Overrides: map[string]Override{
			FieldAddress: AddressOverride("num", "type", "voie", "cp", "ville"),
		},
	}

	got := n.Apply(Raw{"adresse": "ignored", "num": 12.0, "voie": "DE LA PAIX", "type": "RUE", "ville": "PARIS"})
	assert.Equal(t, "12 RUE DE LA PAIX, PARIS", got[FieldAddress])

	got = n.Apply(Raw{"adresse": "ignored"})
	assert.NotContains(t, got, FieldAddress)
}

type fakeBackend struct {
	Base
}

func TestBaseNormalizeOmitsAbsentFields(t *testing.T) {
	b := &fakeBackend{Base: NewBase(Descriptor{
		Name:        "fake",
		DisplayName: "Fake Registry",
		CountryCode: "FR",
	}, NewConfig(nil, WithLookupEnv(noEnv)), Normalizer{
		Fields: FieldMap{
			FieldDenomination: {"name"},
			FieldReference:    {"rna", "siret", "siren"},
		},
		Overrides: map[string]Override{
			FieldAddress: AddressOverride("a", "b", "c", "d", "e"),
		},
	})}

	got := b.Normalize(Raw{"name": "ACME"})

	assert.Equal(t, Normalized{
		FieldDenomination: "ACME",
		FieldBackendName:  "fake",
		FieldDataSource:   "Fake Registry",
		FieldCountry:      "FR",
	}, got)
}

func TestBaseCapabilityGate(t *testing.T) {
	b := &fakeBackend{Base: NewBase(Descriptor{Name: "fake", CanFetchData: true}, NewConfig(nil), Normalizer{})}

	_, err := b.GetDocuments(context.Background(), "732829320", "", Options{})
	assert.ErrorIs(t, err, ErrCapabilityUnsupported)

	_, err = b.GetEvents(context.Background(), "732829320", "", Options{})
	assert.ErrorIs(t, err, ErrCapabilityUnsupported)

	assert.NoError(t, b.Unsupported(CapabilityData))
}

func TestRequireSetting(t *testing.T) {
	b := &fakeBackend{Base: NewBase(Descriptor{Name: "fake"}, NewConfig(nil, WithLookupEnv(noEnv)), Normalizer{})}

	_, err := b.RequireSetting("api_key")
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "COMPANYATLAS_FAKE_API_KEY")
}

func TestCode(t *testing.T) {
	id, ok := Code("732 829 320", "", identifier.SIREN, identifier.SIRET)
	assert.True(t, ok)
	assert.Equal(t, "732829320", id.Normalized)

	_, ok = Code("W75123456", "", identifier.SIREN)
	assert.False(t, ok)

	_, ok = Code("732829320", identifier.SIRET, identifier.SIREN, identifier.SIRET)
	assert.False(t, ok)

	_, ok = Code("nope", "", identifier.SIREN)
	assert.False(t, ok)
}

func TestHTTPClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte(`{"results":[{"siren":"732829320"}]}`))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(WithRate(100, 10))

	var out struct {
		Results []Raw `json:"results"`
	}

	found, err := client.GetJSON(context.Background(), srv.URL+"/ok", map[string]string{"X-Api-Key": "secret"}, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, out.Results, 1)

	found, err = client.GetJSON(context.Background(), srv.URL+"/missing", nil, &out)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = client.GetJSON(context.Background(), srv.URL+"/boom", nil, &out)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "search failed: status 502", err.Error())
}

func TestHTTPClientSharesHostLimiter(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	start := time.Now()

	// A fresh client per request, the way backends are rebuilt per search.
	for range 4 {
		client := NewHTTPClient(WithRate(10, 1))

		_, err := client.GetJSON(context.Background(), srv.URL, nil, &struct{}{})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(4), hits.Load())
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestHTTPClientHonorsContext(t *testing.T) {
	client := NewHTTPClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetJSON(ctx, "http://127.0.0.1:1/never", nil, &struct{}{})
	assert.Error(t, err)
}

func TestAnnotate(t *testing.T) {
	desc := Descriptor{Name: "bodacc", DisplayName: "BODACC", CountryCode: "FR"}

	got := Annotate(desc, Raw{"type": "Vente", "date": "2024-01-02", "url": "", "officers": []string{}})

	assert.Equal(t, Normalized{
		"type":           "Vente",
		"date":           "2024-01-02",
		FieldBackendName: "bodacc",
		FieldDataSource:  "BODACC",
		FieldCountry:     "FR",
	}, got)
}
