package bodacc

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// ParsePersonnes returns the officers and the legal form found in the
// "listepersonnes" block.
func ParsePersonnes(listepersonnes *string) ([]string, string) {
	if listepersonnes == nil {
		return []string{}, ""
	}

	var personnesData ParsedPersonnes
	if err := json.Unmarshal([]byte(*listepersonnes), &personnesData); err != nil {
		slog.Debug("Erreur parsing listepersonnes", "error", err, "data", *listepersonnes)
		return []string{}, ""
	}

	if personnesData.Personne == nil {
		return []string{}, ""
	}

	var societeDirigeants []string

	switch admin := personnesData.Personne.Administration.(type) {
	case []interface{}:
		for _, item := range admin {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				societeDirigeants = append(societeDirigeants, strings.TrimSpace(str))
			}
		}
	case string:
		if cleanString := strings.TrimSpace(admin); cleanString != "" {
			societeDirigeants = append(societeDirigeants, cleanString)
		}
	}

	societeForme := ""
	if personnesData.Personne.FormeJuridique != nil {
		societeForme = *personnesData.Personne.FormeJuridique
	}

	return societeDirigeants, societeForme
}

func parseDepot(depot *string) ParsedDepot {
	var depotData ParsedDepot
	if depot == nil {
		return depotData
	}

	if err := json.Unmarshal([]byte(*depot), &depotData); err != nil {
		slog.Debug("Erreur parsing depot", "error", err, "data", *depot)
	}

	return depotData
}

// ParseDepot returns the closing date of the accounts filed in a "dpc"
// announcement.
func ParseDepot(depot *string) string {
	if d := parseDepot(depot).DateCloture; d != nil {
		return *d
	}

	return ""
}

// describe picks the most specific text of an announcement: the judgment,
// then the general modifications, then the deed.
func describe(a *Announcement) string {
	for _, block := range []struct {
		raw  *string
		keys []string
	}{
		{raw: a.Jugement, keys: []string{"nature", "complementJugement"}},
		{raw: a.Modificationsgenerales, keys: []string{"descriptif"}},
		{raw: a.Acte, keys: []string{"descriptif", "categorieCreation"}},
	} {
		if block.raw == nil {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal([]byte(*block.raw), &fields); err != nil {
			continue
		}

		var parts []string

		for _, key := range block.keys {
			if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}

		if len(parts) > 0 {
			return strings.Join(parts, " - ")
		}
	}

	return a.TypeavisLib
}

func (a *Announcement) Siren() string {
	for _, registre := range a.Registre {
		if siren := strings.ReplaceAll(registre, " ", ""); len(siren) == 9 {
			return siren
		}
	}

	return ""
}

func (a *Announcement) isAccountsFiling() bool {
	return a.Familleavis == "dpc"
}
