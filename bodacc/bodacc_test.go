package bodacc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/Tpgainz/companyatlas/backend"
)

func ptr(s string) *string {
	return &s
}

func TestParsePersonnes(t *testing.T) {
	tests := []struct {
		name      string
		input     *string
		directors []string
		forme     string
	}{
		{"nil", nil, []string{}, ""},
		{"invalid json", ptr("{"), []string{}, ""},
		{"list", ptr(`{"personne":{"administration":["Président : DUPONT Jean"," "],"formeJuridique":"SAS"}}`), []string{"Président : DUPONT Jean"}, "SAS"},
		{"string", ptr(`{"personne":{"administration":" Gérant : MARTIN Paul "}}`), []string{"Gérant : MARTIN Paul"}, ""},
	}

	for _, test := range tests {
		directors, forme := ParsePersonnes(test.input)
		if len(directors) == 0 && len(test.directors) == 0 {
			directors = test.directors
		}

		if !reflect.DeepEqual(directors, test.directors) || forme != test.forme {
			t.Errorf("%s: ParsePersonnes() = %v, %q, expected %v, %q", test.name, directors, forme, test.directors, test.forme)
		}
	}
}

func TestParseDepot(t *testing.T) {
	if got := ParseDepot(ptr(`{"dateCloture":"2022-12-31","typeDepot":"Comptes annuels et rapports"}`)); got != "2022-12-31" {
		t.Errorf("ParseDepot() = %s, expected 2022-12-31", got)
	}

	if got := ParseDepot(nil); got != "" {
		t.Errorf("ParseDepot(nil) = %s, expected empty", got)
	}
}

func TestBuildQuery(t *testing.T) {
	q, err := BuildQuery("732829320", "Modification", backend.Options{
		Limit: 5,
		Extra: map[string]string{"date_from": "2020-01-01", "date_to": "2021-12-31", "department": "75"},
	})
	if err != nil {
		t.Fatalf("BuildQuery() error = %v", err)
	}

	expected := `search(registre, "732829320") AND dateparution >= date'2020-01-01' AND dateparution <= date'2021-12-31'`
	if q.Where != expected {
		t.Errorf("BuildQuery().Where = %s, expected %s", q.Where, expected)
	}

	if !reflect.DeepEqual(q.Refine, []string{`familleavis:"modification"`, `numerodepartement:"75"`}) {
		t.Errorf("BuildQuery().Refine = %v", q.Refine)
	}

	if q.Limit != 5 || q.OrderBy != "dateparution desc" {
		t.Errorf("BuildQuery() limit/order = %d/%s", q.Limit, q.OrderBy)
	}

	if _, err := BuildQuery("732829320", "", backend.Options{Extra: map[string]string{"date_from": "01/01/2020"}}); err == nil {
		t.Error("BuildQuery() expected an error for a malformed date")
	}
}

func TestExtractDirectors(t *testing.T) {
	html := `<table><tr><td class="info-dirigeant"><a class="underline">DUPONT Jean</a></td></tr>
		<tr><td class="info-dirigeant"><a class="underline"> </a></td></tr>
		<tr><td class="info-dirigeant"><a class="underline">MARTIN Paul</a></td></tr></table>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}

	if got := ExtractDirectors(doc); !reflect.DeepEqual(got, []string{"DUPONT Jean", "MARTIN Paul"}) {
		t.Errorf("ExtractDirectors() = %v", got)
	}
}

type pageRenderer map[string]string

func (p pageRenderer) Render(_ context.Context, u string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(p[u]))
}

func bodaccServer(t *testing.T, results []map[string]any) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog/datasets/annonces-commerciales/records" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"total_count": len(results), "results": results})
	}))
}

func newTestBackend(url string, renderer pageRenderer) *Bodacc {
	cfg := backend.NewConfig(map[string]map[string]string{"bodacc": {"base_url": url}},
		backend.WithLookupEnv(func(string) (string, bool) { return "", false }))

	return NewWithRenderer(cfg, renderer)
}

func TestGetEvents(t *testing.T) {
	srv := bodaccServer(t, []map[string]any{
		{
			"id":                     "A-1",
			"familleavis":            "modification",
			"familleavis_lib":        "Modifications diverses",
			"registre":               []string{"732 829 320", "732829320"},
			"commercant":             "ACME",
			"ville":                  "Paris",
			"dateparution":           "2023-03-01",
			"modificationsgenerales": `{"descriptif":"Modification du capital"}`,
		},
		{
			"id":           "A-2",
			"familleavis":  "dpc",
			"registre":     []string{"732829320"},
			"commercant":   "ACME",
			"dateparution": "2023-02-01",
			"depot":        `{"dateCloture":"2022-12-31","typeDepot":"Comptes annuels et rapports"}`,
		},
	})
	defer srv.Close()

	b := newTestBackend(srv.URL, pageRenderer{
		"https://www.pappers.fr/entreprise/acme-732829320": `<table><tr><td class="info-dirigeant"><a class="underline">DUPONT Jean</a></td></tr></table>`,
	})

	events, err := b.GetEvents(context.Background(), "73282932000074", "", backend.Options{
		Extra: map[string]string{"enrich_officers": "true"},
	})
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("GetEvents() returned %d events, expected 1", len(events))
	}

	event := events[0]
	if event["description"] != "Modification du capital" {
		t.Errorf("description = %v", event["description"])
	}

	if event["closing_date"] != "2022-12-31" {
		t.Errorf("closing_date = %v", event["closing_date"])
	}

	if !reflect.DeepEqual(event["officers"], []string{"DUPONT Jean"}) {
		t.Errorf("officers = %v", event["officers"])
	}

	if event["siren"] != "732829320" {
		t.Errorf("siren = %v", event["siren"])
	}
}

func TestGetDocuments(t *testing.T) {
	srv := bodaccServer(t, []map[string]any{
		{
			"id":           "A-2",
			"familleavis":  "dpc",
			"registre":     []string{"732829320"},
			"dateparution": "2023-02-01",
			"url_complete": "https://www.bodacc.fr/annonce/A-2",
			"depot":        `{"dateCloture":"2022-12-31","typeDepot":"Comptes annuels et rapports"}`,
		},
	})
	defer srv.Close()

	b := newTestBackend(srv.URL, nil)

	documents, err := b.GetDocuments(context.Background(), "732829320", "comptes annuels", backend.Options{})
	if err != nil {
		t.Fatalf("GetDocuments() error = %v", err)
	}

	if len(documents) != 1 || documents[0]["title"] != "Comptes annuels et rapports" {
		t.Fatalf("GetDocuments() = %v", documents)
	}

	normalized := backend.Annotate(b.Descriptor(), documents[0])
	if normalized["data_source"] != "BODACC" || normalized["url"] != "https://www.bodacc.fr/annonce/A-2" {
		t.Errorf("Annotate() = %v", normalized)
	}
}

func TestInvalidSirenSkipsRequest(t *testing.T) {
	b := newTestBackend("http://127.0.0.1:1", nil)

	events, err := b.GetEvents(context.Background(), "732829321", "", backend.Options{})
	if err != nil || events != nil {
		t.Errorf("GetEvents() = %v, %v, expected nil, nil", events, err)
	}
}

func TestCompanyDataUnsupported(t *testing.T) {
	if Descriptor().Supports(backend.CapabilityData) {
		t.Error("bodacc must not declare company data")
	}
}
