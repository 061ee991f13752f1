// Package bodacc reads the announcements of the Bulletin officiel des
// annonces civiles et commerciales: accounts filings are exposed as
// documents, every other announcement as an event.
package bodacc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/entreprise"
	"github.com/Tpgainz/companyatlas/identifier"
	"github.com/Tpgainz/companyatlas/opendata"
	"github.com/Tpgainz/companyatlas/scrape"
)

const (
	bodaccBaseURL = "https://bodacc-datadila.opendatasoft.com/api/explore/v2.1"
	bodaccDataset = "annonces-commerciales"
	dateLayout    = "2006-01-02"
)

var _ backend.Backend = (*Bodacc)(nil)

type Bodacc struct {
	backend.Base
	explore  *opendata.Client
	renderer scrape.Renderer
}

func Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:           "bodacc",
		DisplayName:    "BODACC",
		Description:    "Bulletin Officiel des Annonces Civiles et Commerciales",
		CountryCode:    "FR",
		Continent:      "europe",
		CanFetchDocs:   true,
		CanFetchEvents: true,
		ConfigKeys:     []string{"base_url"},
		ConfigDefaults: map[string]string{
			"base_url": bodaccBaseURL,
			"dataset":  bodaccDataset,
		},
		RequestCost: map[backend.Capability]backend.Cost{
			backend.CapabilityDocuments: backend.Free(),
			backend.CapabilityEvents:    backend.Free(),
		},
		DocumentationURL: "https://bodacc-datadila.opendatasoft.com/explore/dataset/annonces-commerciales/api/",
		SiteURL:          "https://www.bodacc.fr",
		APIURL:           bodaccBaseURL,
	}
}

func New(cfg backend.Config) backend.Backend {
	return NewWithRenderer(cfg, scrape.NewBrowserRenderer())
}

func NewWithRenderer(cfg backend.Config, renderer scrape.Renderer) *Bodacc {
	b := &Bodacc{
		Base: backend.NewBase(Descriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {"denomination"},
				backend.FieldReference:    {"siren"},
				"siren":                   {"siren"},
				"city":                    {"city"},
				"legal_form":              {"legal_form"},
				"officers":                {"officers"},
			},
		}),
		renderer: renderer,
	}

	b.explore = opendata.NewClient(backend.NewHTTPClient(), b.Setting("base_url"), b.Setting("api_key"))

	return b
}

func Register(r backend.Registrar) {
	r.Register("bodacc", New)
}

// GetDocuments lists the accounts filings ("dpc"). documentType matches the
// filing type, e.g. "comptes annuels".
func (b *Bodacc) GetDocuments(ctx context.Context, id, documentType string, opts backend.Options) ([]backend.Raw, error) {
	announcements, err := b.announcements(ctx, id, "dpc", opts)
	if err != nil || announcements == nil {
		return nil, err
	}

	var documents []backend.Raw

	for i := range announcements {
		a := &announcements[i]

		depot := parseDepot(a.Depot)

		title := "Dépôt des comptes"
		if depot.TypeDepot != nil && *depot.TypeDepot != "" {
			title = *depot.TypeDepot
		}

		if documentType != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(documentType)) {
			continue
		}

		documents = append(documents, backend.Raw{
			"id":           a.ID,
			"type":         "comptes",
			"title":        title,
			"date":         a.Dateparution,
			"closing_date": ParseDepot(a.Depot),
			"siren":        a.Siren(),
			"denomination": a.Commercant,
			"url":          a.URLComplete,
		})
	}

	return documents, nil
}

// GetEvents lists the announcements other than accounts filings. eventType
// is a BODACC family code ("immatriculation", "modification", "vente",
// "collective", "radiation", ...). Events are enriched with the closing date
// of the latest filing, and with officers scraped from Pappers when
// Extra["enrich_officers"] is "true".
func (b *Bodacc) GetEvents(ctx context.Context, id, eventType string, opts backend.Options) ([]backend.Raw, error) {
	announcements, err := b.announcements(ctx, id, eventType, opts)
	if err != nil || announcements == nil {
		return nil, err
	}

	closureDates := extractDpcClosureDates(announcements)
	enrich := opts.Extra["enrich_officers"] == "true"

	var events []backend.Raw

	for i := range announcements {
		a := &announcements[i]

		if a.isAccountsFiling() && eventType != "dpc" {
			continue
		}

		events = append(events, b.transform(ctx, a, closureDates, enrich))
	}

	return events, nil
}

func (b *Bodacc) transform(ctx context.Context, a *Announcement, closureDates map[string]string, enrich bool) backend.Raw {
	siren := a.Siren()
	officers, legalForm := ParsePersonnes(a.Listepersonnes)

	dateCloture := ParseDepot(a.Depot)
	if dateCloture == "" {
		dateCloture = closureDates[siren]
	}

	pappersURL := ""
	if siren != "" && a.Commercant != "" {
		pappersURL = entreprise.CreatePappersURL(a.Commercant, siren)
	}

	if len(officers) == 0 && enrich && pappersURL != "" {
		officers = b.scrapeDirectors(ctx, pappersURL)
	}

	return backend.Raw{
		"id":           a.ID,
		"type":         a.Familleavis,
		"label":        a.FamilleavisLib,
		"date":         a.Dateparution,
		"description":  describe(a),
		"siren":        siren,
		"denomination": a.Commercant,
		"officers":     officers,
		"legal_form":   legalForm,
		"closing_date": dateCloture,
		"city":         a.Ville,
		"court":        a.Tribunal,
		"url":          a.URLComplete,
		"pappers_url":  pappersURL,
	}
}

// announcements returns nil without error when id is not a valid SIREN.
func (b *Bodacc) announcements(ctx context.Context, id, family string, opts backend.Options) ([]Announcement, error) {
	siren := identifier.FormatSIREN(id)
	if !identifier.ValidateSIREN(siren) {
		return nil, nil
	}

	q, err := BuildQuery(siren, family, opts)
	if err != nil {
		return nil, err
	}

	b.Logger().Debug("Recherche BODACC", "siren", siren, "where", q.Where, "refine", q.Refine)

	var data announcementsResponse
	if err := b.explore.Fetch(ctx, b.Setting("dataset"), q, &data); err != nil {
		return nil, err
	}

	b.Logger().Debug(fmt.Sprintf("Réponse BODACC reçue: total_count=%d, results_length=%d",
		data.TotalCount, len(data.Results)))

	if data.Results == nil {
		return []Announcement{}, nil
	}

	return data.Results, nil
}

// BuildQuery filters the announcements of one company, newest first.
// Extra may carry "date_from" and "date_to" (YYYY-MM-DD) and "department".
func BuildQuery(siren, family string, opts backend.Options) (opendata.Query, error) {
	conditions := []string{fmt.Sprintf("search(registre, %s)", opendata.Quote(siren))}

	for _, bound := range []struct{ key, op string }{{"date_from", ">="}, {"date_to", "<="}} {
		value := strings.TrimSpace(opts.Extra[bound.key])
		if value == "" {
			continue
		}

		if _, err := time.Parse(dateLayout, value); err != nil {
			return opendata.Query{}, fmt.Errorf("invalid %s %q: %w", bound.key, value, err)
		}

		conditions = append(conditions, fmt.Sprintf("dateparution %s date'%s'", bound.op, value))
	}

	q := opendata.Query{
		Where:   strings.Join(conditions, " AND "),
		OrderBy: "dateparution desc",
		Limit:   opts.LimitOr(20),
	}

	if family != "" {
		q.Refine = append(q.Refine, fmt.Sprintf(`familleavis:"%s"`, strings.ToLower(family)))
	}

	if department := opts.Extra["department"]; department != "" {
		q.Refine = append(q.Refine, fmt.Sprintf(`numerodepartement:"%s"`, department))
	}

	return q, nil
}

func extractDpcClosureDates(announcements []Announcement) map[string]string {
	closureDates := make(map[string]string)

	for i := range announcements {
		a := &announcements[i]
		if !a.isAccountsFiling() {
			continue
		}

		siren := a.Siren()
		if _, seen := closureDates[siren]; seen {
			continue
		}

		if dateCloture := ParseDepot(a.Depot); dateCloture != "" {
			closureDates[siren] = dateCloture
		}
	}

	return closureDates
}
