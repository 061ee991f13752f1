package entreprise

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
)

func noEnv(string) (string, bool) {
	return "", false
}

func testConfig(values map[string]map[string]string) backend.Config {
	return backend.NewConfig(values, backend.WithLookupEnv(noEnv))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestINSEESearchByCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/siret", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-INSEE-Api-Key-Integration"))
		assert.Equal(t, "siren:732829320 AND etablissementSiege:true", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("nombre"))

		writeJSON(t, w, map[string]any{
			"etablissements": []any{
				map[string]any{
					"siren": "732829320",
					"siret": "73282932000074",
					"uniteLegale": map[string]any{
						"denominationUniteLegale": "ACME",
						"dateCreationUniteLegale": "1970-01-01",
					},
					"periodesEtablissement": []any{
						map[string]any{"activitePrincipaleEtablissement": "62.01Z"},
					},
					"adresseEtablissement": map[string]any{
						"numeroVoieEtablissement":     "12",
						"typeVoieEtablissement":       "BD",
						"libelleVoieEtablissement":    "HAUSSMANN",
						"codePostalEtablissement":     "75009",
						"libelleCommuneEtablissement": "PARIS",
					},
				},
			},
		})
	}))
	defer srv.Close()

	b := NewINSEE(testConfig(map[string]map[string]string{
		"insee": {"api_key": "secret", "base_url": srv.URL},
	}))

	raw, err := b.SearchByCode(context.Background(), "732 829 320", identifier.Unknown, backend.Options{})
	require.NoError(t, err)
	require.NotNil(t, raw)

	normalized := b.Normalize(raw)

	assert.Equal(t, "ACME", normalized["denomination"])
	assert.Equal(t, "73282932000074", normalized["reference"])
	assert.Equal(t, "12 BOULEVARD HAUSSMANN, 75009, PARIS", normalized["address"])
	assert.Equal(t, "62.01Z", normalized["ape"])
	assert.Equal(t, "insee", normalized["backend_name"])
	assert.Equal(t, "INSEE SIRENE", normalized["data_source"])
	assert.Equal(t, "FR", normalized["country"])
	assert.NotContains(t, normalized, "rna")
}

func TestINSEERejectsInvalidCodeWithoutRequest(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewINSEE(testConfig(map[string]map[string]string{
		"insee": {"api_key": "secret", "base_url": srv.URL},
	}))

	raw, err := b.SearchByCode(context.Background(), "732829321", identifier.Unknown, backend.Options{})
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = b.SearchByCode(context.Background(), "732829320", identifier.RNA, backend.Options{})
	require.NoError(t, err)
	assert.Nil(t, raw)

	assert.Zero(t, calls.Load())
}

func TestINSEEMissingAPIKey(t *testing.T) {
	b := NewINSEE(testConfig(nil))

	_, err := b.SearchByName(context.Background(), "acme", backend.Options{})
	require.ErrorIs(t, err, backend.ErrMissingConfig)
	assert.Contains(t, err.Error(), "COMPANYATLAS_INSEE_API_KEY")

	status := backend.Evaluate(b.Descriptor(), testConfig(nil))
	assert.False(t, status.IsAvailable)
	assert.Equal(t, []string{"api_key"}, status.MissingConfig)
}

func TestEntDataGouvSearchByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "ACME", r.URL.Query().Get("q"))
		assert.Equal(t, "25", r.URL.Query().Get("per_page"))
		assert.Equal(t, "75009", r.URL.Query().Get("code_postal"))

		writeJSON(t, w, map[string]any{
			"results": []any{
				map[string]any{
					"siren":      "732829320",
					"nom_complet": "ACME",
					"siege": map[string]any{
						"siret":           "73282932000074",
						"adresse":         "12 BD HAUSSMANN 75009 PARIS",
						"latitude":        "48.8738",
						"longitude":       "2.3320",
						"code_postal":     "75009",
						"libelle_commune": "PARIS",
					},
					"dirigeants": []any{
						map[string]any{"nom": "DUPONT", "prenoms": "Jean", "qualite": "Président"},
						map[string]any{"denomination": "AUDIT SA", "qualite": "Commissaire aux comptes"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	b := NewEntDataGouv(testConfig(map[string]map[string]string{
		"entdatagouv": {"base_url": srv.URL},
	}))

	results, err := b.SearchByName(context.Background(), "ACME", backend.Options{
		Limit: 50,
		Extra: map[string]string{"postal_code": "75009"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	normalized := b.Normalize(results[0])

	assert.Equal(t, "ACME", normalized["denomination"])
	assert.Equal(t, "73282932000074", normalized["reference"])
	assert.Equal(t, "75009, PARIS", normalized["address"])
	assert.Equal(t, []string{"DUPONT Jean (Président)", "AUDIT SA (Commissaire aux comptes)"}, normalized["officers"])

	plusCode, ok := normalized["plus_code"].(string)
	require.True(t, ok)
	assert.Len(t, plusCode, 11)
	assert.Contains(t, plusCode, "+")
}

func TestEntDataGouvAssociation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/id/W75123456", r.URL.Path)

		writeJSON(t, w, map[string]any{
			"association": map[string]any{
				"id_association": "W75123456",
				"titre":          "AMIS DU QUARTIER",
			},
		})
	}))
	defer srv.Close()

	b := NewEntDataGouv(testConfig(map[string]map[string]string{
		"entdatagouv": {"rna_url": srv.URL},
	}))

	raw, err := b.SearchByCode(context.Background(), "w75123456", identifier.Unknown, backend.Options{})
	require.NoError(t, err)

	normalized := b.Normalize(raw)
	assert.Equal(t, "AMIS DU QUARTIER", normalized["denomination"])
	assert.Equal(t, "W75123456", normalized["reference"])
	assert.Equal(t, "W75123456", normalized["rna"])
}

func TestOpendatasoftSearchByCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/catalog/datasets/economicref-france-sirene-v3@public/records", r.URL.Path)
		assert.Equal(t, `siret = "73282932000074"`, r.URL.Query().Get("where"))

		writeJSON(t, w, map[string]any{
			"total_count": 1,
			"results": []any{
				map[string]any{
					"siren":                       "732829320",
					"siret":                       "73282932000074",
					"denominationunitelegale":     "ACME",
					"numerovoieetablissement":     "12",
					"typevoieetablissement":       "AV",
					"libellevoieetablissement":    "FOCH",
					"libellecommuneetablissement": "LYON",
				},
			},
		})
	}))
	defer srv.Close()

	b := NewOpendatasoft(testConfig(map[string]map[string]string{
		"opendatasoft": {"base_url": srv.URL},
	}))

	raw, err := b.SearchByCode(context.Background(), "732 829 320 00074", identifier.SIRET, backend.Options{})
	require.NoError(t, err)

	normalized := b.Normalize(raw)
	assert.Equal(t, "ACME", normalized["denomination"])
	assert.Equal(t, "12 AVENUE FOCH, LYON", normalized["address"])
	assert.Equal(t, "Opendatasoft", normalized["data_source"])
}

func pappersServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pk", r.Header.Get("api-key"))
		assert.Equal(t, "/entreprise", r.URL.Path)

		if r.URL.Query().Get("siren") != "732829320" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		writeJSON(t, w, map[string]any{
			"siren":          "732829320",
			"nom_entreprise": "ACME",
			"siege": map[string]any{
				"siret":          "73282932000074",
				"adresse_ligne_1": "12 RUE DE LA PAIX",
				"ville":          "PARIS",
			},
			"depots_actes": []any{
				map[string]any{"date_depot": "2023-01-10", "token": "a1", "actes": []any{map[string]any{"type": "Statuts mis à jour"}}},
			},
			"comptes": []any{
				map[string]any{"date_depot": "2023-07-01", "annee_cloture": 2022, "token": "c1"},
			},
			"publications_bodacc": []any{
				map[string]any{"type": "Modification", "date": "2023-02-01", "description": "Changement de dirigeant", "bodacc": "B"},
				map[string]any{"type": "Immatriculation", "date": "1970-01-01", "bodacc": "A"},
			},
		})
	}))
}

func TestPappersDocumentsAndEvents(t *testing.T) {
	srv := pappersServer(t)
	defer srv.Close()

	b := NewPappers(testConfig(map[string]map[string]string{
		"pappers": {"api_key": "pk", "base_url": srv.URL},
	}))

	documents, err := b.GetDocuments(context.Background(), "73282932000074", "", backend.Options{})
	require.NoError(t, err)
	require.Len(t, documents, 2)
	assert.Equal(t, "Statuts mis à jour", documents[0]["title"])
	assert.Equal(t, srv.URL+"/document/telechargement?token=a1", documents[0]["url"])
	assert.Equal(t, "Comptes annuels 2022", documents[1]["title"])

	events, err := b.GetEvents(context.Background(), "732829320", "modification", backend.Options{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Changement de dirigeant", events[0]["description"])

	raw, err := b.SearchByCode(context.Background(), "732829320", identifier.Unknown, backend.Options{})
	require.NoError(t, err)

	normalized := b.Normalize(raw)
	assert.Equal(t, "12 RUE DE LA PAIX, PARIS", normalized["address"])
	assert.Equal(t, "73282932000074", normalized["reference"])
}

func TestPappersNotFound(t *testing.T) {
	srv := pappersServer(t)
	defer srv.Close()

	b := NewPappers(testConfig(map[string]map[string]string{
		"pappers": {"api_key": "pk", "base_url": srv.URL},
	}))

	raw, err := b.SearchByCode(context.Background(), "552120222", identifier.SIREN, backend.Options{})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestInfogreffeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ik", r.Header.Get("Authorization"))
		assert.Equal(t, "/entreprises/732829320/evenements", r.URL.Path)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewInfogreffe(testConfig(map[string]map[string]string{
		"infogreffe": {"api_key": "ik", "base_url": srv.URL},
	}))

	_, err := b.GetEvents(context.Background(), "732829320", "", backend.Options{})

	var statusErr *backend.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestINPIAuthenticatesOnce(t *testing.T) {
	var logins atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sso/login":
			logins.Add(1)

			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "user", body["username"])

			writeJSON(t, w, map[string]string{"token": "tok"})
		case "/api/companies/732829320":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

			writeJSON(t, w, map[string]any{
				"formality": map[string]any{
					"siren": "732829320",
					"content": map[string]any{
						"personneMorale": map[string]any{
							"identite": map[string]any{
								"entreprise": map[string]any{"denomination": "ACME"},
							},
							"adresseEntreprise": map[string]any{
								"adresse": map[string]any{
									"numVoie":    "3",
									"typeVoie":   "PL",
									"voie":       "VENDOME",
									"codePostal": "75001",
									"commune":    "PARIS",
								},
							},
						},
					},
				},
			})
		case "/api/companies/732829320/attachments":
			writeJSON(t, w, map[string]any{
				"actes":  []any{map[string]any{"id": "A1", "dateDepot": "2020-01-01", "typeRdd": []any{map[string]any{"typeActe": "Statuts"}}}},
				"bilans": []any{map[string]any{"id": "B1", "dateDepot": "2021-06-30", "typeBilan": "C"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewINPI(testConfig(map[string]map[string]string{
		"inpi": {"username": "user", "password": "pass", "base_url": srv.URL},
	}))

	raw, err := b.SearchByCode(context.Background(), "732829320", identifier.Unknown, backend.Options{})
	require.NoError(t, err)

	normalized := b.Normalize(raw)
	assert.Equal(t, "ACME", normalized["denomination"])
	assert.Equal(t, "732829320", normalized["reference"])
	assert.Equal(t, "3 PLACE VENDOME, 75001, PARIS", normalized["address"])

	documents, err := b.GetDocuments(context.Background(), "732829320", "bilans", backend.Options{})
	require.NoError(t, err)
	require.Len(t, documents, 1)
	assert.Equal(t, srv.URL+"/api/bilans/B1/download", documents[0]["url"])

	// Instances are rebuilt for every search and must reuse the token.
	again := NewINPI(testConfig(map[string]map[string]string{
		"inpi": {"username": "user", "password": "pass", "base_url": srv.URL},
	}))

	_, err = again.SearchByCode(context.Background(), "732829320", identifier.SIREN, backend.Options{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), logins.Load())
}

func TestINPIEventsUnsupported(t *testing.T) {
	b := NewINPI(testConfig(nil))

	_, err := b.GetEvents(context.Background(), "732829320", "", backend.Options{})
	require.ErrorIs(t, err, backend.ErrCapabilityUnsupported)
}

func TestPharowEmails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/companies/search", r.URL.Path)
		assert.Equal(t, "xk", r.Header.Get("x-api-key"))

		var body pharowSearchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ACME", body.Query)
		assert.Equal(t, 10, body.Limit)

		writeJSON(t, w, map[string]any{
			"companies": []any{
				map[string]any{
					"name":  "ACME",
					"siren": "732829320",
					"email": "contact@acme.fr",
					"contacts": []any{
						map[string]any{"email": "jane@acme.fr"},
						map[string]any{"email": "not-an-email"},
						map[string]any{"email": "contact@acme.fr"},
					},
					"description": "Write to sales@acme.fr for quotes.",
				},
			},
		})
	}))
	defer srv.Close()

	b := NewPharow(testConfig(map[string]map[string]string{
		"pharow": {"api_key": "xk", "base_url": srv.URL},
	}))

	results, err := b.SearchByName(context.Background(), "ACME", backend.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	normalized := b.Normalize(results[0])
	assert.Equal(t, []string{"contact@acme.fr", "jane@acme.fr", "sales@acme.fr"}, normalized["emails"])
	assert.Equal(t, "732829320", normalized["reference"])
}

type fakeRenderer struct {
	pages    map[string]string
	rendered []string
}

func (f *fakeRenderer) Render(_ context.Context, u string) (*goquery.Document, error) {
	f.rendered = append(f.rendered, u)

	return goquery.NewDocumentFromReader(strings.NewReader(f.pages[u]))
}

func TestSocieteCom(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]string{
		"https://societe.test/cgi-bin/search?champs=732829320": `<html><body>
			<a href="/societe/acme-732829320.html"><span class="ui-label">ACME</span></a>
			<a href="/societe/acme-732829320.html">duplicate</a>
		</body></html>`,
		"https://societe.test/societe/acme-732829320.html": `<html><body>
			<h1> ACME </h1>
			<table>
				<tr><td>SIREN</td><td>732 829 320</td></tr>
				<tr><td>Forme juridique</td><td>SAS, société par actions simplifiée</td></tr>
				<tr><td>Adresse</td><td>12 RUE DE LA PAIX, 75002 PARIS</td></tr>
			</table>
			<a href="mailto:contact@acme.fr">Contact</a>
		</body></html>`,
		"https://societe.test/documents-officiels/acme-732829320.html": `<html><body><table>
			<tr><td>2023-06-30</td><td><a href="/pdf/statuts.pdf">Statuts constitutifs</a></td></tr>
			<tr><td>2022-06-30</td><td><a href="https://cdn.test/kbis.pdf">Extrait Kbis</a></td></tr>
		</table></body></html>`,
	}}

	b := NewSocieteComWithRenderer(testConfig(map[string]map[string]string{
		"societecom": {"base_url": "https://societe.test"},
	}), renderer)

	raw, err := b.SearchByCode(context.Background(), "732829320", identifier.Unknown, backend.Options{})
	require.NoError(t, err)

	normalized := b.Normalize(raw)
	assert.Equal(t, "ACME", normalized["denomination"])
	assert.Equal(t, "732829320", normalized["reference"])
	assert.Equal(t, "12 RUE DE LA PAIX, 75002 PARIS", normalized["address"])
	assert.Equal(t, "SAS, société par actions simplifiée", normalized["legal_form"])
	assert.Equal(t, []string{"contact@acme.fr"}, normalized["emails"])

	documents, err := b.GetDocuments(context.Background(), "732829320", "kbis", backend.Options{})
	require.NoError(t, err)
	require.Len(t, documents, 1)
	assert.Equal(t, "https://cdn.test/kbis.pdf", documents[0]["url"])
	assert.Equal(t, "2022-06-30", documents[0]["date"])
}

func TestSocieteComRequiresBrowser(t *testing.T) {
	desc := SocieteComDescriptor()

	assert.Equal(t, []string{"playwright"}, desc.RequiredPackages)
	assert.False(t, desc.CanFetchEvents)
}

type registrar []string

func (r *registrar) Register(name string, _ backend.Constructor) {
	*r = append(*r, name)
}

func TestRegister(t *testing.T) {
	var names registrar

	Register(&names)

	assert.Equal(t, registrar{
		"insee", "entdatagouv", "huwise", "opendatasoft", "pappers",
		"infogreffe", "inpi", "societecom", "pharow",
	}, names)
}
