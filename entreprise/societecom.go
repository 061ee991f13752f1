package entreprise

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
	"github.com/Tpgainz/companyatlas/scrape"
)

const societeComBaseURL = "https://www.societe.com"

var (
	_ backend.Backend = (*SocieteCom)(nil)

	societeComSirenRe = regexp.MustCompile(`-(\d{9})\.html`)
)

// SocieteCom scrapes societe.com. The site renders its listings client side,
// pages go through a headless browser.
type SocieteCom struct {
	backend.Base
	renderer scrape.Renderer
}

var societeComLabels = map[string]string{
	"siren":                "siren",
	"siret":                "siret",
	"forme juridique":      "legal_form",
	"code naf":             "ape",
	"adresse":              "address",
	"date immatriculation": "since",
	"date de creation":     "since",
	"effectif":             "slice_effective",
	"capital social":       "capital",
	"numero de tva":        "vat_number",
}

func SocieteComDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:             "societecom",
		DisplayName:      "Societe.com",
		Description:      "Aggregator of legal and financial information on French companies",
		CountryCode:      "FR",
		Continent:        "europe",
		CanFetchData:     true,
		CanFetchDocs:     true,
		ConfigDefaults:   map[string]string{"base_url": societeComBaseURL},
		RequiredPackages: []string{scrape.PackageName},
		RequestCost: map[backend.Capability]backend.Cost{
			backend.CapabilityData:      backend.Paid(5),
			backend.CapabilityDocuments: backend.Paid(5),
		},
		DocumentationURL: "https://www.societe.com/cgi-bin/api",
		SiteURL:          societeComBaseURL,
	}
}

func NewSocieteCom(cfg backend.Config) backend.Backend {
	return NewSocieteComWithRenderer(cfg, scrape.NewBrowserRenderer())
}

func NewSocieteComWithRenderer(cfg backend.Config, renderer scrape.Renderer) *SocieteCom {
	return &SocieteCom{
		Base: backend.NewBase(SocieteComDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {"denomination"},
				backend.FieldReference:    {"siret", "siren"},
				backend.FieldAddress:      {"address"},
				"siren":                   {"siren"},
				"siret":                   {"siret"},
				"legal_form":              {"legal_form"},
				"ape":                     {"ape"},
				"since":                   {"since"},
				"slice_effective":         {"slice_effective"},
				"capital":                 {"capital"},
				"vat_number":              {"vat_number"},
				"emails":                  {"emails"},
				"url":                     {"url"},
			},
		}),
		renderer: renderer,
	}
}

func (s *SocieteCom) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	doc, err := s.renderer.Render(ctx, s.searchURL(ProcessForSearch(name)))
	if err != nil {
		return nil, err
	}

	results := ParseSocieteComSearch(doc, s.Setting("base_url"))
	if limit := opts.LimitOr(10); len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func (s *SocieteCom) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET)
	if !ok {
		return nil, nil
	}

	companyURL, err := s.companyURL(ctx, id.SIREN())
	if err != nil || companyURL == "" {
		return nil, err
	}

	doc, err := s.renderer.Render(ctx, companyURL)
	if err != nil {
		return nil, err
	}

	company := ParseSocieteComCompany(doc)
	if company[backend.FieldDenomination] == nil {
		return nil, nil
	}

	if company["siren"] == nil {
		company["siren"] = id.SIREN()
	}

	if id.Kind == identifier.SIRET {
		company["siret"] = id.Normalized
	}

	company["url"] = companyURL

	return company, nil
}

func (s *SocieteCom) GetDocuments(ctx context.Context, id, documentType string, _ backend.Options) ([]backend.Raw, error) {
	siren, ok := sirenOf(id)
	if !ok {
		return nil, nil
	}

	companyURL, err := s.companyURL(ctx, siren)
	if err != nil || companyURL == "" {
		return nil, err
	}

	doc, err := s.renderer.Render(ctx, strings.Replace(companyURL, "/societe/", "/documents-officiels/", 1))
	if err != nil {
		return nil, err
	}

	documents := ParseSocieteComDocuments(doc, s.Setting("base_url"))
	if documentType == "" {
		return documents, nil
	}

	filtered := documents[:0]
	for _, document := range documents {
		if strings.Contains(strings.ToLower(backend.String(document, "title")), strings.ToLower(documentType)) {
			filtered = append(filtered, document)
		}
	}

	return filtered, nil
}

// companyURL resolves the company page of a SIREN through the site search.
func (s *SocieteCom) companyURL(ctx context.Context, siren string) (string, error) {
	doc, err := s.renderer.Render(ctx, s.searchURL(siren))
	if err != nil {
		return "", err
	}

	for _, result := range ParseSocieteComSearch(doc, s.Setting("base_url")) {
		if result["siren"] == siren {
			return result["url"].(string), nil
		}
	}

	return "", nil
}

func (s *SocieteCom) searchURL(query string) string {
	return fmt.Sprintf("%s/cgi-bin/search?champs=%s", s.Setting("base_url"), url.QueryEscape(query))
}

// ParseSocieteComSearch extracts the company links of a search result page.
func ParseSocieteComSearch(doc *goquery.Document, baseURL string) []backend.Raw {
	seen := map[string]bool{}

	var results []backend.Raw

	doc.Find("a[href*='/societe/']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")

		matches := societeComSirenRe.FindStringSubmatch(href)
		if len(matches) < 2 || seen[matches[1]] {
			return
		}

		denomination := cleanText(s.Find(".ui-label, .deno").First().Text())
		if denomination == "" {
			denomination = cleanText(s.Text())
		}

		seen[matches[1]] = true
		results = append(results, backend.Raw{
			"denomination": denomination,
			"siren":        matches[1],
			"url":          absoluteURL(baseURL, href),
		})
	})

	return results
}

// ParseSocieteComCompany reads the identity table of a company page.
func ParseSocieteComCompany(doc *goquery.Document) backend.Raw {
	company := backend.Raw{}

	if denomination := cleanText(doc.Find("h1").First().Text()); denomination != "" {
		company["denomination"] = denomination
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		label := strings.ToLower(NormalizeName(cells.Eq(0).Text()))
		value := cleanText(cells.Eq(1).Text())

		if value == "" {
			return
		}

		for prefix, field := range societeComLabels {
			if _, ok := company[field]; ok {
				continue
			}

			if strings.HasPrefix(label, prefix) {
				company[field] = value
				break
			}
		}
	})

	for _, field := range []string{"siren", "siret"} {
		if v, ok := company[field].(string); ok {
			company[field] = identifier.Normalize(v)
		}
	}

	if emails := ExtractEmails(doc, []byte(doc.Find("body").Text())); len(emails) > 0 {
		company["emails"] = emails
	}

	return company
}

// ParseSocieteComDocuments lists the downloadable PDFs of the official
// documents page.
func ParseSocieteComDocuments(doc *goquery.Document, baseURL string) []backend.Raw {
	var documents []backend.Raw

	doc.Find("a[href$='.pdf']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")

		title := cleanText(s.Text())
		if title == "" {
			title, _ = s.Attr("title")
		}

		documents = append(documents, backend.Raw{
			"type":  "document",
			"title": title,
			"date":  cleanText(s.Closest("tr").Find("td").First().Text()),
			"url":   absoluteURL(baseURL, href),
		})
	})

	return documents
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absoluteURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(href, "/")
}
