package entreprise

import (
	"context"
	"strings"

	"github.com/Tpgainz/companyatlas/backend"
	"github.com/Tpgainz/companyatlas/identifier"
	"github.com/Tpgainz/companyatlas/opendata"
)

var (
	_ backend.Backend = (*Huwise)(nil)
	_ backend.Backend = (*Opendatasoft)(nil)
)

type Huwise struct {
	backend.Base
	sirene sireneV3
}

func HuwiseDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:         "huwise",
		DisplayName:  "Huwise",
		Description:  "Open data platform aggregating French public datasets",
		CountryCode:  "FR",
		Continent:    "europe",
		CanFetchData: true,
		ConfigKeys:   []string{"siren_dataset_id", "base_url"},
		ConfigDefaults: map[string]string{
			"siren_dataset_id": "economicref-france-sirene-v3",
			"base_url":         "https://hub.huwise.com",
		},
		RequestCost:      map[backend.Capability]backend.Cost{backend.CapabilityData: backend.Free()},
		DocumentationURL: "https://docs.huwise.com",
		SiteURL:          "https://huwise.com",
		APIURL:           "https://hub.huwise.com/api/explore/v2.1",
	}
}

func NewHuwise(cfg backend.Config) backend.Backend {
	h := &Huwise{
		Base: backend.NewBase(HuwiseDescriptor(), cfg, sireneV3Normalizer()),
	}

	h.sirene = sireneV3{
		explore: opendata.NewClient(
			backend.NewHTTPClient(),
			strings.TrimRight(h.Setting("base_url"), "/")+"/api/explore/v2.1",
			"",
		),
		dataset: h.Setting("siren_dataset_id"),
	}

	return h
}

func (h *Huwise) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	return h.sirene.searchByName(ctx, name, opts.LimitOr(20))
}

func (h *Huwise) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	return h.sirene.searchByCode(ctx, code, codeType)
}

type Opendatasoft struct {
	backend.Base
	sirene sireneV3
}

func OpendatasoftDescriptor() backend.Descriptor {
	return backend.Descriptor{
		Name:         "opendatasoft",
		DisplayName:  "Opendatasoft",
		Description:  "Open data platform aggregating French public datasets",
		CountryCode:  "FR",
		Continent:    "europe",
		CanFetchData: true,
		ConfigKeys:   []string{"dataset_id"},
		ConfigDefaults: map[string]string{
			"dataset_id": "economicref-france-sirene-v3@public",
			"base_url":   "https://data.opendatasoft.com/api/explore/v2.1",
		},
		RequestCost:      map[backend.Capability]backend.Cost{backend.CapabilityData: backend.Free()},
		DocumentationURL: "https://help.opendatasoft.com/apis/ods-explore-v2/",
		SiteURL:          "https://data.opendatasoft.com",
		APIURL:           "https://data.opendatasoft.com/api/explore/v2.1",
	}
}

func NewOpendatasoft(cfg backend.Config) backend.Backend {
	o := &Opendatasoft{
		Base: backend.NewBase(OpendatasoftDescriptor(), cfg, sireneV3Normalizer()),
	}

	o.sirene = sireneV3{
		explore: opendata.NewClient(backend.NewHTTPClient(), o.Setting("base_url"), o.Setting("api_key")),
		dataset: o.Setting("dataset_id"),
	}

	return o
}

func (o *Opendatasoft) SearchByName(ctx context.Context, name string, opts backend.Options) ([]backend.Raw, error) {
	return o.sirene.searchByName(ctx, name, opts.LimitOr(20))
}

func (o *Opendatasoft) SearchByCode(ctx context.Context, code string, codeType identifier.Kind, _ backend.Options) (backend.Raw, error) {
	return o.sirene.searchByCode(ctx, code, codeType)
}
