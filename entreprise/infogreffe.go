package entreprise

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
)

const infogreffeBaseURL = "https://api.infogreffe.fr/api/v1"

var _ backend.Backend = (*Infogreffe)(nil)

// Infogreffe is the commercial court registry. Every call is billed.
type Infogreffe struct {
	backend.Base
	client *backend.HTTPClient
}

func InfogreffeDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:           "infogreffe",
		DisplayName:    "Infogreffe",
		Description:    "Registry of the French commercial courts",
		CountryCode:    "FR",
		Continent:      "europe",
		CanFetchData:   true,
		CanFetchDocs:   true,
		CanFetchEvents: true,
		ConfigKeys:     []string{"api_key"},
		ConfigDefaults: map[string]string{"base_url": infogreffeBaseURL},
		RequestCost: map[backend.Capability]backend.Cost{
			backend.CapabilityData:      backend.Paid(5),
			backend.CapabilityDocuments: backend.Paid(5),
			backend.CapabilityEvents:    backend.Paid(5),
		},
		DocumentationURL: "https://www.infogreffe.fr/informations-et-dossiers-entreprises/api",
		SiteURL:          "https://www.infogreffe.fr",
		APIURL:           infogreffeBaseURL,
	}
}

func NewInfogreffe(cfg backend.Config) backend.Backend {
	return &Infogreffe{
		Base: backend.NewBase(InfogreffeDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {"denomination", "nom"},
				backend.FieldReference:    {"siret", "siren"},
				"siren":                   {"siren"},
				"siret":                   {"siret"},
				"since":                   {"date_immatriculation"},
				"legal_form":              {"forme_juridique.libelle", "forme_juridique"},
				"greffe":                  {"greffe.nom"},
				"postal_code":             {"adresse.code_postal"},
				"city":                    {"adresse.ville"},
			},
			Overrides: map[string]backend.Override{
				backend.FieldAddress: backend.AddressOverride(
					"adresse.numero_voie",
					"adresse.type_voie",
					"adresse.libelle_voie",
					"adresse.code_postal",
					"adresse.ville",
				),
			},
		}),
		client: backend.NewHTTPClient(backend.WithRate(1, 1)),
	}
}

func (s *Infogreffe) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("denomination", ProcessForSearch(name))
	params.Set("limit", strconv.Itoa(opts.LimitOr(20)))

	var data map[string]any
	if _, err := s.get(ctx, "/entreprises?"+params.Encode(), &data); err != nil {
		return nil, err
	}

	return records(data["entreprises"]), nil
}

func (s *Infogreffe) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET)
	if !ok {
		return nil, nil
	}

	var data map[string]any

	found, err := s.get(ctx, "/entreprises/"+id.SIREN(), &data)
	if err != nil || !found {
		return nil, err
	}

	return data, nil
}

func (s *Infogreffe) GetDocuments(ctx context.Context, id, documentType string, _ backend.Options) ([]backend.Raw, error) {
	return s.listing(ctx, id, "actes", documentType)
}

func (s *Infogreffe) GetEvents(ctx context.Context, id, eventType string, _ backend.Options) ([]backend.Raw, error) {
	return s.listing(ctx, id, "evenements", eventType)
}

func (s *Infogreffe) listing(ctx context.Context, id, resource, kind string) ([]backend.Raw, error) {
	siren, ok := sirenOf(id)
	if !ok {
		return nil, nil
	}

	endpoint := fmt.Sprintf("/entreprises/%s/%s", siren, resource)
	if kind != "" {
		endpoint += "?type=" + url.QueryEscape(kind)
	}

	var data map[string]any
	if _, err := s.get(ctx, endpoint, &data); err != nil {
		return nil, err
	}

	return records(data[resource]), nil
}

func (s *Infogreffe) get(ctx context.Context, endpoint string, out any) (bool, error) {
	apiKey, err := s.RequireSetting("api_key")
	if err != nil {
		return false, err
	}

	return s.client.GetJSON(ctx, s.Setting("base_url")+endpoint, map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, out)
}
