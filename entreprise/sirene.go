package entreprise

import (
	"context"
	"fmt"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
	"github.com/Tpgainz/companyatlas/opendata"
)

// Huwise and Opendatasoft both republish SIRENE v3 as an Explore dataset
// with flattened lowercase column names.
func sireneV3Normalizer() backend.Normalizer {
	return backend.Normalizer{
		Fields: backend.FieldMap{
			backend.FieldDenomination: {"denominationunitelegale", "denominationusuelleetablissement", "nomunitelegale"},
			backend.FieldReference:    {"identifiantassociationunitelegale", "siret", "siren"},
			"siren":                   {"siren"},
			"siret":                   {"siret"},
			"rna":                     {"identifiantassociationunitelegale"},
			"since":                   {"datecreationunitelegale"},
			"legal_form":              {"categoriejuridiqueunitelegale"},
			"ape":                     {"activiteprincipaleunitelegale", "activiteprincipaleetablissement"},
			"postal_code":             {"codepostaletablissement"},
			"city":                    {"libellecommuneetablissement"},
		},
		Overrides: map[string]backend.Override{
			backend.FieldAddress: sireneV3Address,
		},
	}
}

func sireneV3Address(raw backend.Raw) (any, bool) {
	return backend.JoinAddress(
		backend.String(raw, "numerovoieetablissement"),
		ExpandStreetType(backend.String(raw, "typevoieetablissement")),
		backend.String(raw, "libellevoieetablissement"),
		backend.String(raw, "codepostaletablissement"),
		backend.String(raw, "libellecommuneetablissement"),
	)
}

// sireneV3 holds the search logic shared by the Explore mirrors of SIRENE.
type sireneV3 struct {
	explore *opendata.Client
	dataset string
}

func (s sireneV3) searchByName(ctx context.Context, name string, limit int) ([]backend.Raw, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, nil
	}

	resp, err := s.explore.Records(ctx, s.dataset, opendata.Query{
		Where: fmt.Sprintf("search(denominationunitelegale, %s)", opendata.Quote(ProcessForSearch(name))),
		Limit: limit,
		Lang:  "fr",
	})
	if err != nil {
		return nil, err
	}

	return resp.Results, nil
}

func (s sireneV3) searchByCode(ctx context.Context, code string, codeType identifier.Kind) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET, identifier.RNA)
	if !ok {
		return nil, nil
	}

	var where string

	switch id.Kind {
	case identifier.SIREN:
		where = fmt.Sprintf(`siren = %s AND etablissementsiege = "oui"`, opendata.Quote(id.Normalized))
	case identifier.SIRET:
		where = fmt.Sprintf("siret = %s", opendata.Quote(id.Normalized))
	default:
		where = fmt.Sprintf("identifiantassociationunitelegale = %s", opendata.Quote(id.Normalized))
	}

	resp, err := s.explore.Records(ctx, s.dataset, opendata.Query{Where: where, Limit: 1})
	if err != nil || len(resp.Results) == 0 {
		return nil, err
	}

	return resp.Results[0], nil
}
