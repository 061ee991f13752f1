package entreprise

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	olc "github.com/google/open-location-code/go"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
)

const (
	gouvBaseURL        = "https://recherche-entreprises.api.gouv.fr"
	gouvSearchEndpoint = "/search"
	rnaBaseURL         = "https://entreprise.data.gouv.fr/api/rna/v1"
	plusCodeLength     = 10
)

var _ backend.Backend = (*EntDataGouv)(nil)

// EntDataGouv uses the public "recherche d'entreprises" API for companies
// and the RNA API for associations. Neither needs credentials.
type EntDataGouv struct {
	backend.Base
	client *backend.HTTPClient
}

func EntDataGouvDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:         "entdatagouv",
		DisplayName:  "data.gouv.fr",
		Description:  "French open data platform for public entities and datasets",
		CountryCode:  "FR",
		Continent:    "europe",
		CanFetchData: true,
		ConfigKeys:   []string{"base_url", "rna_url"},
		ConfigDefaults: map[string]string{
			"base_url": gouvBaseURL,
			"rna_url":  rnaBaseURL,
		},
		RequestCost:      map[backend.Capability]backend.Cost{backend.CapabilityData: backend.Free()},
		DocumentationURL: "https://recherche-entreprises.api.gouv.fr/docs/",
		SiteURL:          "https://annuaire-entreprises.data.gouv.fr",
		APIURL:           gouvBaseURL,
	}
}

func NewEntDataGouv(cfg backend.Config) backend.Backend {
	return &EntDataGouv{
		Base: backend.NewBase(EntDataGouvDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {"nom_raison_sociale", "nom_complet", "titre"},
				backend.FieldReference:    {"complements.identifiant_association", "id_association", "siege.siret", "siret", "siren"},
				"siren":                   {"siren"},
				"siret":                   {"siege.siret", "siret"},
				"rna":                     {"complements.identifiant_association", "id_association"},
				"since":                   {"date_creation", "date_creation_rna"},
				"legal_form":              {"nature_juridique"},
				"ape":                     {"activite_principale", "siege.activite_principale"},
				"category":                {"categorie_entreprise"},
				"slice_effective":         {"tranche_effectif_salarie"},
				"postal_code":             {"siege.code_postal", "adresse_code_postal"},
				"city":                    {"siege.libelle_commune", "adresse_libelle_commune"},
			},
			Overrides: map[string]backend.Override{
				backend.FieldAddress: gouvAddress,
				"plus_code":          gouvPlusCode,
				"officers":           gouvOfficers,
			},
		}),
		client: backend.NewHTTPClient(backend.WithRate(7, 1)),
	}
}

func gouvAddress(raw backend.Raw) (any, bool) {
	if address, ok := backend.JoinAddress(
		backend.String(raw, "siege.numero_voie", "adresse_numero_voie"),
		ExpandStreetType(backend.String(raw, "siege.type_voie", "adresse_type_voie")),
		backend.String(raw, "siege.libelle_voie", "adresse_libelle_voie"),
		backend.String(raw, "siege.code_postal", "adresse_code_postal"),
		backend.String(raw, "siege.libelle_commune", "adresse_libelle_commune"),
	); ok {
		return address, true
	}

	if address := backend.String(raw, "siege.adresse"); address != "" {
		return address, true
	}

	return nil, false
}

// gouvPlusCode encodes the head office coordinates as an Open Location Code.
func gouvPlusCode(raw backend.Raw) (any, bool) {
	lat, err := strconv.ParseFloat(backend.String(raw, "siege.latitude"), 64)
	if err != nil {
		return nil, false
	}

	lng, err := strconv.ParseFloat(backend.String(raw, "siege.longitude"), 64)
	if err != nil {
		return nil, false
	}

	return olc.Encode(lat, lng, plusCodeLength), true
}

func gouvOfficers(raw backend.Raw) (any, bool) {
	v, ok := backend.Lookup(raw, "dirigeants")
	if !ok {
		return nil, false
	}

	items, _ := v.([]any)

	var officers []string

	for _, item := range items {
		d, ok := item.(map[string]any)
		if !ok {
			continue
		}

		name := strings.TrimSpace(backend.String(d, "nom") + " " + backend.String(d, "prenoms"))
		if name == "" {
			name = backend.String(d, "denomination")
		}

		if name == "" {
			continue
		}

		if qualite := backend.String(d, "qualite"); qualite != "" {
			name = fmt.Sprintf("%s (%s)", name, qualite)
		}

		officers = append(officers, name)
	}

	return officers, len(officers) > 0
}

func (s *EntDataGouv) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", ProcessForSearch(name))
	params.Set("per_page", strconv.Itoa(min(opts.LimitOr(20), 25)))

	if postalCode := opts.Extra["postal_code"]; postalCode != "" {
		params.Set("code_postal", postalCode)
	}

	return s.search(ctx, params)
}

func (s *EntDataGouv) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET, identifier.RNA)
	if !ok {
		return nil, nil
	}

	if id.Kind == identifier.RNA {
		return s.association(ctx, id.Normalized)
	}

	params := url.Values{}
	params.Set("q", id.Normalized)
	params.Set("per_page", "1")

	results, err := s.search(ctx, params)
	if err != nil || len(results) == 0 {
		return nil, err
	}

	return results[0], nil
}

func (s *EntDataGouv) search(ctx context.Context, params url.Values) ([]backend.Raw, error) {
	searchURL := fmt.Sprintf("%s%s?%s", s.Setting("base_url"), gouvSearchEndpoint, params.Encode())

	s.Logger().Debug("GOUV search", "url", searchURL)

	var data map[string]any
	if _, err := s.client.GetJSON(ctx, searchURL, nil, &data); err != nil {
		return nil, err
	}

	return records(data["results"]), nil
}

func (s *EntDataGouv) association(ctx context.Context, rna string) (backend.Raw, error) {
	var data map[string]any

	found, err := s.client.GetJSON(ctx, fmt.Sprintf("%s/id/%s", s.Setting("rna_url"), rna), nil, &data)
	if err != nil || !found {
		return nil, err
	}

	if association, ok := data["association"].(map[string]any); ok {
		return association, nil
	}

	return data, nil
}
