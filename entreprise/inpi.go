package entreprise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
)

const (
	inpiBaseURL           = "https://registre-national-entreprises.inpi.fr"
	inpiDemoBaseURL       = "https://registre-national-entreprises-pprod.inpi.fr"
	inpiCompaniesEndpoint = "/api/companies"
	inpiSSOLoginEndpoint  = "/api/sso/login"
	inpiTokenLifetime     = 55 * time.Minute
)

var _ backend.Backend = (*INPI)(nil)

var inpiAddressPrefixes = []string{
	"formality.content.personneMorale.adresseEntreprise.adresse",
	"formality.content.personnePhysique.adresseEntreprise.adresse",
	"formality.content.exploitation.adresseEntreprise.adresse",
}

// INPI reads the Registre National des Entreprises. Requests carry a bearer
// token obtained from the SSO endpoint and cached until it expires.
type INPI struct {
	backend.Base
	client *backend.HTTPClient
}

type inpiToken struct {
	value  string
	expiry time.Time
}

// inpiTokens caches SSO tokens per account and registry URL across INPI
// instances.
var inpiTokens = struct {
	mu     sync.RWMutex
	tokens map[string]inpiToken
}{tokens: make(map[string]inpiToken)}

type inpiAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type inpiAuthResponse struct {
	Token string `json:"token"`
}

func INPIDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:         "inpi",
		DisplayName:  "INPI",
		Description:  "Registre National des Entreprises",
		CountryCode:  "FR",
		Continent:    "europe",
		CanFetchData: true,
		CanFetchDocs: true,
		ConfigKeys:   []string{"username", "password"},
		ConfigDefaults: map[string]string{
			"use_demo": "false",
		},
		RequestCost: map[backend.Capability]backend.Cost{
			backend.CapabilityData:      backend.Free(),
			backend.CapabilityDocuments: backend.Free(),
		},
		DocumentationURL: "https://www.inpi.fr/ressources/services-et-outils/api-du-registre-national-des-entreprises",
		SiteURL:          "https://www.inpi.fr",
		APIURL:           inpiBaseURL,
	}
}

func NewINPI(cfg backend.Config) backend.Backend {
	return &INPI{
		Base: backend.NewBase(INPIDescriptor(), cfg, backend.Normalizer{
			Fields: backend.FieldMap{
				backend.FieldDenomination: {
					"formality.content.personneMorale.identite.entreprise.denomination",
					"formality.content.personnePhysique.identite.entrepreneur.descriptionPersonne.nom",
				},
				backend.FieldReference: {"formality.siren", "siren"},
				"siren":                {"formality.siren", "siren"},
				"legal_form": {
					"formality.content.personneMorale.identite.entreprise.formeJuridique",
					"formality.formeJuridique",
				},
				"since": {
					"formality.content.personneMorale.identite.entreprise.dateImmat",
					"formality.content.natureCreation.dateCreation",
				},
				"postal_code": prefixed(inpiAddressPrefixes, "codePostal"),
				"city":        prefixed(inpiAddressPrefixes, "commune"),
			},
			Overrides: map[string]backend.Override{
				backend.FieldAddress: inpiAddress,
			},
		}),
		client: backend.NewHTTPClient(backend.WithRate(2, 1)),
	}
}

func prefixed(prefixes []string, field string) backend.Paths {
	paths := make(backend.Paths, 0, len(prefixes))
	for _, prefix := range prefixes {
		paths = append(paths, prefix+"."+field)
	}

	return paths
}

// inpiAddress uses the first prefix that carries any address fragment.
func inpiAddress(raw backend.Raw) (any, bool) {
	for _, prefix := range inpiAddressPrefixes {
		if address, ok := backend.JoinAddress(
			backend.String(raw, prefix+".numVoie"),
			ExpandStreetType(backend.String(raw, prefix+".typeVoie")),
			backend.String(raw, prefix+".voie"),
			backend.String(raw, prefix+".codePostal"),
			backend.String(raw, prefix+".commune"),
		); ok {
			return address, true
		}
	}

	return nil, false
}

func (s *INPI) baseURL() string {
	if v := s.Setting("base_url"); v != "" {
		return strings.TrimRight(v, "/")
	}

	if useDemo, _ := strconv.ParseBool(s.Setting("use_demo")); useDemo {
		return inpiDemoBaseURL
	}

	return inpiBaseURL
}

func (s *INPI) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("companyName", ProcessForSearch(name))
	params.Set("pageSize", strconv.Itoa(opts.LimitOr(20)))

	if department := ExtractDepartmentNumber(opts.Extra["address"]); department != "" {
		params.Set("departments", department)
	}

	var formalities []any
	if _, err := s.get(ctx, inpiCompaniesEndpoint+"?"+params.Encode(), &formalities); err != nil {
		return nil, err
	}

	return records(formalities), nil
}

func (s *INPI) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	id, ok := backend.Code(code, codeType, identifier.SIREN, identifier.SIRET)
	if !ok {
		return nil, nil
	}

	var company map[string]any

	found, err := s.get(ctx, inpiCompaniesEndpoint+"/"+id.SIREN(), &company)
	if err != nil || !found {
		return nil, err
	}

	return company, nil
}

// GetDocuments lists deeds ("actes") and balance sheets ("bilans").
func (s *INPI) GetDocuments(ctx context.Context, id, documentType string, _ backend.Options) ([]backend.Raw, error) {
	siren, ok := sirenOf(id)
	if !ok {
		return nil, nil
	}

	var attachments map[string]any

	found, err := s.get(ctx, fmt.Sprintf("%s/%s/attachments", inpiCompaniesEndpoint, siren), &attachments)
	if err != nil || !found {
		return nil, err
	}

	var documents []backend.Raw

	for _, kind := range []string{"actes", "bilans"} {
		if documentType != "" && documentType != kind {
			continue
		}

		for _, attachment := range records(attachments[kind]) {
			docID := backend.String(attachment, "id")

			documents = append(documents, backend.Raw{
				"type":  kind,
				"title": backend.String(attachment, "typeRdd.0.typeActe", "nomDocument", "typeBilan"),
				"date":  backend.String(attachment, "dateDepot"),
				"url":   fmt.Sprintf("%s/api/%s/%s/download", s.baseURL(), kind, docID),
			})
		}
	}

	return documents, nil
}

func (s *INPI) get(ctx context.Context, endpoint string, out any) (bool, error) {
	token, err := s.getAuthToken(ctx)
	if err != nil {
		return false, err
	}

	found, err := s.client.GetJSON(ctx, s.baseURL()+endpoint, map[string]string{
		"Authorization": "Bearer " + token,
	}, out)

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		s.resetToken()
	}

	return found, err
}

func (s *INPI) tokenKey() string {
	return s.baseURL() + "|" + s.Setting("username")
}

func (s *INPI) getAuthToken(ctx context.Context) (string, error) {
	inpiTokens.mu.RLock()
	cached, ok := inpiTokens.tokens[s.tokenKey()]
	inpiTokens.mu.RUnlock()

	if ok && time.Now().Before(cached.expiry) {
		return cached.value, nil
	}

	return s.authenticate(ctx)
}

func (s *INPI) authenticate(ctx context.Context) (string, error) {
	inpiTokens.mu.Lock()
	defer inpiTokens.mu.Unlock()

	key := s.tokenKey()
	if cached, ok := inpiTokens.tokens[key]; ok && time.Now().Before(cached.expiry) {
		return cached.value, nil
	}

	username, err := s.RequireSetting("username")
	if err != nil {
		return "", err
	}

	password, err := s.RequireSetting("password")
	if err != nil {
		return "", err
	}

	jsonData, err := json.Marshal(inpiAuthRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("error marshaling auth request: %w", err)
	}

	var authResp inpiAuthResponse

	if _, err := s.client.SendJSON(ctx, http.MethodPost, s.baseURL()+inpiSSOLoginEndpoint, nil,
		bytes.NewReader(jsonData), &authResp); err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}

	if authResp.Token == "" {
		return "", errors.New("no token received in auth response")
	}

	token := inpiToken{value: authResp.Token, expiry: time.Now().Add(inpiTokenLifetime)}
	inpiTokens.tokens[key] = token

	s.Logger().Debug(fmt.Sprintf("INPI authentication successful, token expires at %v", token.expiry))

	return token.value, nil
}

func (s *INPI) resetToken() {
	inpiTokens.mu.Lock()
	defer inpiTokens.mu.Unlock()

	delete(inpiTokens.tokens, s.tokenKey())
}
