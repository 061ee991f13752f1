package bodacc

// Announcement is one record of the "annonces-commerciales" dataset. The
// nested blocks are published as JSON encoded strings.
type Announcement struct {
	ID                     string   `json:"id"`
	Familleavis            string   `json:"familleavis"`
	FamilleavisLib         string   `json:"familleavis_lib"`
	TypeavisLib            string   `json:"typeavis_lib"`
	Registre               []string `json:"registre"`
	Depot                  *string  `json:"depot,omitempty"`
	Listepersonnes         *string  `json:"listepersonnes,omitempty"`
	Jugement               *string  `json:"jugement,omitempty"`
	Modificationsgenerales *string  `json:"modificationsgenerales,omitempty"`
	Acte                   *string  `json:"acte,omitempty"`
	Dateparution           string   `json:"dateparution"`
	URLComplete            string   `json:"url_complete"`
	Commercant             string   `json:"commercant"`
	Ville                  string   `json:"ville"`
	Tribunal               string   `json:"tribunal"`
}

type ParsedPersonnes struct {
	Personne *struct {
		Administration interface{} `json:"administration,omitempty"`
		FormeJuridique *string     `json:"formeJuridique,omitempty"`
	} `json:"personne,omitempty"`
}

type ParsedDepot struct {
	DateCloture     *string `json:"dateCloture,omitempty"`
	TypeDepot       *string `json:"typeDepot,omitempty"`
	DescriptifDepot *string `json:"descriptif,omitempty"`
}

type announcementsResponse struct {
	TotalCount int            `json:"total_count"`
	Results    []Announcement `json:"results"`
}
