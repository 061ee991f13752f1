package entreprise

import "github.com/Tpgainz/companyatlas/backend"

// Register adds the company data backends, free registries first.
func Register(r backend.Registrar) {
	r.Register("insee", NewINSEE)
	r.Register("entdatagouv", NewEntDataGouv)
	r.Register("huwise", NewHuwise)
	r.Register("opendatasoft", NewOpendatasoft)
	r.Register("pappers", NewPappers)
	r.Register("infogreffe", NewInfogreffe)
	r.Register("inpi", NewINPI)
	r.Register("societecom", NewSocieteCom)
	r.Register("pharow", NewPharow)
}
