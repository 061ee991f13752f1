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

const pappersBaseURL = "https://api.pappers.fr/v2"

var _ backend.Backend = (*Pappers)(nil)

type Pappers struct {
	backend.Base
	client *backend.HTTPClient
}

func PappersDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:           "pappers",
		DisplayName:    "Pappers",
		Description:    "French company data aggregator with comprehensive business information",
		CountryCode:    "FR",
		Continent:      "europe",
		CanFetchData:   true,
		CanFetchDocs:   true,
		CanFetchEvents: true,
		ConfigKeys:     []string{"api_key"},
		ConfigDefaults: map[string]string{"base_url": pappersBaseURL},
		RequestCost: map[backend.Capability]backend.Cost{
			backend.CapabilityData:      backend.Paid(1),
			backend.CapabilityDocuments: backend.Paid(1),
			backend.CapabilityEvents:    backend.Paid(1),
		},
		DocumentationURL: "https://www.pappers.fr/api/documentation",
		SiteURL:          "https://www.pappers.fr",
		StatusURL:        "https://www.pappers.fr/api/status",
		APIURL:           pappersBaseURL,
	}
}

func NewPappers(cfg backend.Config) backend.Backend {
	return &Pappers{
		Base: backend.NewBase(PappersDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {"nom_entreprise", "denomination"},
				backend.FieldReference:    {"siege.siret", "siren"},
				"siren":                   {"siren"},
				"siret":                   {"siege.siret"},
				"since":                   {"date_creation"},
				"legal_form":              {"forme_juridique"},
				"ape":                     {"code_naf"},
				"slice_effective":         {"tranche_effectif"},
				"postal_code":             {"siege.code_postal"},
				"city":                    {"siege.ville"},
			},
			Overrides: map[string]backend.Override{
				backend.FieldAddress: pappersAddress,
			},
		}),
		client: backend.NewHTTPClient(),
	}
}

// pappersAddress prefers the split street fields and falls back to the
// preformatted first address line.
func pappersAddress(raw backend.Raw) (any, bool) {
	street := backend.String(raw, "siege.libelle_voie")
	if street == "" {
		return backend.JoinAddress("", "", backend.String(raw, "siege.adresse_ligne_1"),
			backend.String(raw, "siege.code_postal"), backend.String(raw, "siege.ville"))
	}

	return backend.JoinAddress(
		backend.String(raw, "siege.numero_voie"),
		ExpandStreetType(backend.String(raw, "siege.type_voie")),
		street,
		backend.String(raw, "siege.code_postal"),
		backend.String(raw, "siege.ville"),
	)
}

func (p *Pappers) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", ProcessForSearch(name))
	params.Set("par_page", strconv.Itoa(min(opts.LimitOr(20), 100)))
	params.Set("curseur", "*")

	var data map[string]any
	if _, err := p.get(ctx, "/recherche", params, &data); err != nil {
		return nil, err
	}

	return records(data["resultats"]), nil
}

func (p *Pappers) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET)
	if !ok {
		return nil, nil
	}

	return p.company(ctx, id.SIREN())
}

// GetDocuments lists the filed deeds ("actes") and annual accounts
// ("comptes") of a company. documentType filters on one of the two.
func (p *Pappers) GetDocuments(ctx context.Context, id, documentType string, _ backend.Options) ([]backend.Raw, error) {
	siren, ok := sirenOf(id)
	if !ok {
		return nil, nil
	}

	company, err := p.company(ctx, siren)
	if err != nil || company == nil {
		return nil, err
	}

	var documents []backend.Raw

	if documentType == "" || documentType == "actes" {
		for _, acte := range records(company["depots_actes"]) {
			documents = append(documents, backend.Raw{
				"type":  "actes",
				"title": backend.String(acte, "actes.0.type", "type"),
				"date":  backend.String(acte, "date_depot"),
				"url":   p.downloadURL(backend.String(acte, "token")),
			})
		}
	}

	if documentType == "" || documentType == "comptes" {
		for _, comptes := range records(company["comptes"]) {
			documents = append(documents, backend.Raw{
				"type":  "comptes",
				"title": fmt.Sprintf("Comptes annuels %s", backend.String(comptes, "annee_cloture")),
				"date":  backend.String(comptes, "date_depot"),
				"url":   p.downloadURL(backend.String(comptes, "token")),
			})
		}
	}

	return documents, nil
}

// GetEvents returns the BODACC publications Pappers attaches to a company.
func (p *Pappers) GetEvents(ctx context.Context, id, eventType string, _ backend.Options) ([]backend.Raw, error) {
	siren, ok := sirenOf(id)
	if !ok {
		return nil, nil
	}

	company, err := p.company(ctx, siren)
	if err != nil || company == nil {
		return nil, err
	}

	var events []backend.Raw

	for _, publication := range records(company["publications_bodacc"]) {
		kind := backend.String(publication, "type")
		if eventType != "" && !strings.EqualFold(kind, eventType) {
			continue
		}

		events = append(events, backend.Raw{
			"type":        kind,
			"date":        backend.String(publication, "date"),
			"description": backend.String(publication, "description", "acte.descriptif"),
			"bodacc":      backend.String(publication, "bodacc"),
		})
	}

	return events, nil
}

func (p *Pappers) company(ctx context.Context, siren string) (backend.Raw, error) {
	params := url.Values{}
	params.Set("siren", siren)

	var data map[string]any

	found, err := p.get(ctx, "/entreprise", params, &data)
	if err != nil || !found {
		return nil, err
	}

	return data, nil
}

func (p *Pappers) get(ctx context.Context, endpoint string, params url.Values, out any) (bool, error) {
	apiKey, err := p.RequireSetting("api_key")
	if err != nil {
		return false, err
	}

	return p.client.GetJSON(ctx, fmt.Sprintf("%s%s?%s", p.Setting("base_url"), endpoint, params.Encode()),
		map[string]string{"api-key": apiKey}, out)
}

func (p *Pappers) downloadURL(token string) string {
	if token == "" {
		return ""
	}

	return fmt.Sprintf("%s/document/telechargement?token=%s", p.Setting("base_url"), url.QueryEscape(token))
}

// sirenOf accepts a SIREN or a SIRET and returns the SIREN.
func sirenOf(id string) (string, bool) {
	parsed := identifier.Parse(id)
	siren := parsed.SIREN()

	return siren, siren != ""
}
