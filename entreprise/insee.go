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

const (
	inseeBaseURL       = "https://api.insee.fr/api-sirene/3.11"
	inseeSiretEndpoint = "/siret"
)

var _ backend.Backend = (*INSEE)(nil)

// INSEE queries the SIRENE establishment register.
type INSEE struct {
	backend.Base
	client *backend.HTTPClient
}

func INSEEDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:             "insee",
		DisplayName:      "INSEE SIRENE",
		Description:      "Official French company registry (SIRENE database)",
		CountryCode:      "FR",
		Continent:        "europe",
		CanFetchData:     true,
		ConfigKeys:       []string{"api_key"},
		ConfigDefaults:   map[string]string{"base_url": inseeBaseURL},
		RequestCost:      map[backend.Capability]backend.Cost{backend.CapabilityData: backend.Free()},
		DocumentationURL: "https://portail-api.insee.fr/catalog/api/2ba0e549-5587-3ef1-9082-99cd865de66f/doc",
		SiteURL:          "https://www.insee.fr",
		StatusURL:        "https://api.insee.fr/status",
		APIURL:           inseeBaseURL,
	}
}

func NewINSEE(cfg backend.Config) backend.Backend {
	return &INSEE{
		Base: backend.NewBase(INSEEDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {
					"uniteLegale.denominationUniteLegale",
					"uniteLegale.denominationUsuelle1UniteLegale",
					"uniteLegale.nomUniteLegale",
				},
				backend.FieldReference: {"uniteLegale.identifiantAssociationUniteLegale", "siret", "siren"},
				"siren":                {"siren"},
				"siret":                {"siret"},
				"rna":                  {"uniteLegale.identifiantAssociationUniteLegale"},
				"since":                {"uniteLegale.dateCreationUniteLegale"},
				"legal_form":           {"uniteLegale.categorieJuridiqueUniteLegale"},
				"ape": {
					"uniteLegale.activitePrincipaleUniteLegale",
					"activitePrincipaleNAF25Etablissement",
					"periodesEtablissement.0.activitePrincipaleEtablissement",
				},
				"category":        {"uniteLegale.categorieEntreprise"},
				"slice_effective": {"uniteLegale.trancheEffectifsUniteLegale", "trancheEffectifsEtablissement"},
				"is_headquarter":  {"etablissementSiege"},
				"postal_code":     {"adresseEtablissement.codePostalEtablissement"},
				"city":            {"adresseEtablissement.libelleCommuneEtablissement"},
			},
			Overrides: map[string]backend.Override{
				backend.FieldAddress: inseeAddress,
			},
		}),
		client: backend.NewHTTPClient(backend.WithRate(0.5, 2)),
	}
}

func inseeAddress(raw backend.Raw) (any, bool) {
	return backend.JoinAddress(
		backend.String(raw, "adresseEtablissement.numeroVoieEtablissement"),
		ExpandStreetType(backend.String(raw, "adresseEtablissement.typeVoieEtablissement")),
		backend.String(raw, "adresseEtablissement.libelleVoieEtablissement"),
		backend.String(raw, "adresseEtablissement.codePostalEtablissement"),
		backend.String(raw, "adresseEtablissement.libelleCommuneEtablissement"),
	)
}

func (s *INSEE) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = NormalizeName(strings.ReplaceAll(name, "+", " "))
	if name == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`denominationUniteLegale:"%s"`, ProcessForSearch(name))

	s.Logger().Debug("INSEE search", "query", query)

	return s.searchSiret(ctx, query, opts.LimitOr(20))
}

func (s *INSEE) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET, identifier.RNA)
	if !ok {
		return nil, nil
	}

	var query string

	switch id.Kind {
	case identifier.SIREN:
		query = fmt.Sprintf("siren:%s AND etablissementSiege:true", id.Normalized)
	case identifier.SIRET:
		query = fmt.Sprintf("siret:%s", id.Normalized)
	default:
		query = fmt.Sprintf("identifiantAssociationUniteLegale:%s AND etablissementSiege:true", id.Normalized)
	}

	results, err := s.searchSiret(ctx, query, 1)
	if err != nil || len(results) == 0 {
		return nil, err
	}

	return results[0], nil
}

func (s *INSEE) searchSiret(ctx context.Context, query string, limit int) ([]backend.Raw, error) {
	apiKey, err := s.RequireSetting("api_key")
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("nombre", strconv.Itoa(limit))
	params.Set("debut", "0")
	params.Set("masquerValeursNulles", "true")

	searchURL := fmt.Sprintf("%s%s?%s", s.Setting("base_url"), inseeSiretEndpoint, params.Encode())

	var data map[string]any

	found, err := s.client.GetJSON(ctx, searchURL, map[string]string{
		"X-INSEE-Api-Key-Integration": apiKey,
		"Accept":                      "application/json;charset=utf-8",
	}, &data)
	if err != nil {
		s.Logger().Warn(fmt.Sprintf("INSEE search failed: %v", err))
		return nil, err
	}

	if !found {
		return nil, nil
	}

	etablissements := records(data["etablissements"])

	s.Logger().Debug(fmt.Sprintf("INSEE returned %d establishments", len(etablissements)))

	return etablissements, nil
}

// records keeps the object elements of a decoded JSON array.
func records(v any) []backend.Raw {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	result := make([]backend.Raw, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			result = append(result, m)
		}
	}

	return result
}
