package entreprise

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var streetTypeAbbreviations = map[string]string{
	"AV":   "AVENUE",
	"BD":   "BOULEVARD",
	"BLVD": "BOULEVARD",
	"PL":   "PLACE",
	"CH":   "CHEMIN",
	"IMP":  "IMPASSE",
	"ALL":  "ALLEE",
	"AL":   "ALLEE",
	"CRS":  "COURS",
	"PASS": "PASSAGE",
	"SQ":   "SQUARE",
	"QU":   "QUAI",
	"QT":   "QUAI",
	"RTE":  "ROUTE",
	"RES":  "RESIDENCE",
	"DOM":  "DOMAINE",
	"LOT":  "LOTISSEMENT",
	"ZA":   "ZONE",
	"ZI":   "ZONE INDUSTRIELLE",
	"FG":   "FAUBOURG",
	"PRV":  "PARVIS",
	"CHE":  "CHEMIN",
}

var legalForms = []string{
	"SARL", "SA", "SAS", "SASU", "SNC", "SCS", "SCA", "SCE", "SCIC",
	"SELARL", "SELAS", "SELAFA", "SELCA", "EURL", "EIRL", "SCI", "SCM", "SEL",
}

var (
	nonWordRe     = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	spacesRe      = regexp.MustCompile(`\s+`)
	postalCodeRe  = regexp.MustCompile(`\b(\d{5})\b`)
	legalFormsRes = compileLegalForms()
)

func compileLegalForms() []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(legalForms))
	for _, form := range legalForms {
		res = append(res, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(form)+`\b`))
	}

	return res
}

// NormalizeName uppercases a company name, folds accents and drops
// punctuation so that "Société Générale & Cie" and "SOCIETE GENERALE ET CIE"
// produce the same query.
func NormalizeName(name string) string {
	normalized := strings.TrimSpace(name)
	normalized = strings.ReplaceAll(normalized, "&", " ET ")
	normalized = norm.NFD.String(strings.ToUpper(normalized))

	var builder strings.Builder
	for _, r := range normalized {
		if unicode.IsMark(r) {
			continue
		}

		builder.WriteRune(r)
	}

	normalized = nonWordRe.ReplaceAllString(builder.String(), " ")
	normalized = spacesRe.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}

func RemoveLegalForm(name string) string {
	cleaned := name
	for _, re := range legalFormsRes {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	cleaned = spacesRe.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}

// ProcessForSearch shortens very long names to their first words, registries
// reject or mismatch them otherwise.
func ProcessForSearch(companyName string) string {
	trimmed := strings.TrimSpace(companyName)

	if len(trimmed) > 50 {
		words := strings.Fields(trimmed)
		if len(words) >= 3 {
			return strings.Join(words[:3], " ")
		} else if len(words) >= 2 {
			return strings.Join(words[:2], " ")
		}
	}

	return trimmed
}

// ExpandStreetType turns the abbreviated street types used by SIRENE
// ("BD", "AV") into their full form.
func ExpandStreetType(abbrev string) string {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(abbrev), ".", ""))
	if expanded, ok := streetTypeAbbreviations[cleaned]; ok {
		return expanded
	}

	return cleaned
}

func ExtractDepartmentNumber(address string) string {
	matches := postalCodeRe.FindStringSubmatch(address)
	if len(matches) > 1 {
		return matches[1][:2]
	}

	return ""
}

func ExtractPostalCode(address string) string {
	matches := postalCodeRe.FindStringSubmatch(address)
	if len(matches) > 1 {
		return matches[1]
	}

	return ""
}

func CreatePappersURL(denomination, siren string) string {
	slug := strings.ToLower(NormalizeName(denomination))
	slug = strings.ReplaceAll(slug, " ", "-")

	return fmt.Sprintf("https://www.pappers.fr/entreprise/%s-%s", slug, siren)
}
