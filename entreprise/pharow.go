package entreprise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
)

const pharowBaseURL = "https://api.pharow.com/v1"

var _ backend.Backend = (*Pharow)(nil)

// Pharow aggregates B2B sources. Its records carry contact data, from which
// the normalizer keeps the validated email addresses.
type Pharow struct {
	backend.Base
	client *backend.HTTPClient
}

type pharowSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func PharowDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:           "pharow",
		DisplayName:    "Pharow",
		Description:    "B2B data aggregation to enrich company information",
		CountryCode:    "FR",
		Continent:      "europe",
		CanFetchData:   true,
		ConfigKeys:     []string{"api_key"},
		ConfigDefaults: map[string]string{"base_url": pharowBaseURL},
		RequestCost: map[backend.Capability]backend.Cost{
			backend.CapabilityData: backend.Paid(2),
		},
		DocumentationURL: "https://www.pharow.com/api",
		SiteURL:          "https://www.pharow.com",
		APIURL:           "https://api.pharow.com",
	}
}

func NewPharow(cfg backend.Config) backend.Backend {
	return &Pharow{
		Base: backend.NewBase(PharowDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {"name", "legal_name"},
				backend.FieldReference:    {"siret", "siren"},
				"siren":                   {"siren"},
				"siret":                   {"siret"},
				"ape":                     {"naf_code"},
				"website":                 {"website", "domain"},
				"phone":                   {"phone"},
				"slice_effective":         {"headcount_range"},
				"postal_code":             {"address.postal_code"},
				"city":                    {"address.city"},
			},
			Overrides: map[string]backend.Override{
				backend.FieldAddress: backend.AddressOverride(
					"address.street_number",
					"address.street_type",
					"address.street",
					"address.postal_code",
					"address.city",
				),
				"emails": pharowEmails,
			},
		}),
		client: backend.NewHTTPClient(backend.WithRate(2, 1)),
	}
}

// pharowEmails collects the company address, the contact addresses and any
// address written in the free-text description.
func pharowEmails(raw backend.Raw) (any, bool) {
	var set emailSet

	set.add(backend.String(raw, "email"))

	for _, contact := range records(raw["contacts"]) {
		set.add(backend.String(contact, "email"))
	}

	if list, ok := raw["emails"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				set.add(s)
			}
		}
	}

	for _, text := range findEmails([]byte(backend.String(raw, "description"))) {
		set.add(text)
	}

	if len(set.emails) == 0 {
		return nil, false
	}

	return set.emails, true
}

func (p *Pharow) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	body, err := json.Marshal(pharowSearchRequest{Query: ProcessForSearch(name), Limit: opts.LimitOr(10)})
	if err != nil {
		return nil, fmt.Errorf("error marshaling search request: %w", err)
	}

	headers, err := p.headers()
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if _, err := p.client.SendJSON(ctx, http.MethodPost, p.Setting("base_url")+"/companies/search", headers,
		bytes.NewReader(body), &data); err != nil {
		return nil, err
	}

	return records(data["companies"]), nil
}

func (p *Pharow) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET)
	if !ok {
		return nil, nil
	}

	headers, err := p.headers()
	if err != nil {
		return nil, err
	}

	var company map[string]any

	found, err := p.client.GetJSON(ctx, p.Setting("base_url")+"/companies/"+id.SIREN(), headers, &company)
	if err != nil || !found {
		return nil, err
	}

	return company, nil
}

func (p *Pharow) headers() (map[string]string, error) {
	apiKey, err := p.RequireSetting("api_key")
	if err != nil {
		return nil, err
	}

	return map[string]string{"x-api-key": apiKey}, nil
}
