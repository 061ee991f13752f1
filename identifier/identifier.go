// Package identifier validates and formats French company identifiers.
//
// SIREN numbers carry a Luhn check digit. SIRET numbers are the SIREN followed
// by a 5 digit establishment suffix and are only checked for shape. RNA numbers
// identify associations and are made of the letter W followed by 8 digits.
package identifier

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

type Kind string

const (
	Unknown Kind = "unknown"
	SIREN   Kind = "siren"
	SIRET   Kind = "siret"
	RNA     Kind = "rna"
)

var ErrInvalid = errors.New("invalid identifier")

var (
	sirenPattern = regexp.MustCompile(`^\d{9}$`)
	siretPattern = regexp.MustCompile(`^\d{14}$`)
	rnaPattern   = regexp.MustCompile(`^W\d{8}$`)
	rnaDigits    = regexp.MustCompile(`^\d{8}$`)
)

// Identifier is a raw user input tagged with its detected kind.
type Identifier struct {
	Kind       Kind   `json:"kind"`
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
}

func (id Identifier) Valid() bool {
	return id.Kind != Unknown
}

func (id Identifier) String() string {
	return id.Normalized
}

// SIREN returns the company part of the identifier, empty for RNA and
// unknown values.
func (id Identifier) SIREN() string {
	switch id.Kind {
	case SIREN:
		return id.Normalized
	case SIRET:
		return SIRENFromSIRET(id.Normalized)
	default:
		return ""
	}
}

func Parse(raw string) Identifier {
	normalized := Normalize(raw)

	return Identifier{
		Kind:       DetectKind(normalized),
		Raw:        raw,
		Normalized: normalized,
	}
}

// Normalize removes every whitespace and hyphen and uppercases the rest.
func Normalize(raw string) string {
	var builder strings.Builder

	builder.Grow(len(raw))

	for _, r := range raw {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}

		builder.WriteRune(unicode.ToUpper(r))
	}

	return builder.String()
}

func DetectKind(raw string) Kind {
	s := Normalize(raw)

	switch {
	case ValidateSIREN(s):
		return SIREN
	case ValidateSIRET(s):
		return SIRET
	case ValidateRNA(s):
		return RNA
	default:
		return Unknown
	}
}

func ValidateSIREN(s string) bool {
	if !sirenPattern.MatchString(s) {
		return false
	}

	return luhn(s)
}

func ValidateSIRET(s string) bool {
	return siretPattern.MatchString(s)
}

// ValidateSIRETChecksum applies the Luhn check to all 14 digits. It is not
// used by DetectKind: a few establishments (La Poste) do not satisfy it.
func ValidateSIRETChecksum(s string) bool {
	return ValidateSIRET(s) && luhn(s)
}

func ValidateRNA(s string) bool {
	return rnaPattern.MatchString(s)
}

// FormatSIREN returns the first 9 normalized characters. It never fails,
// validation is a separate step.
func FormatSIREN(s string) string {
	normalized := Normalize(s)
	if len(normalized) >= 9 {
		return normalized[:9]
	}

	return normalized
}

func FormatRNA(s string) string {
	normalized := Normalize(s)
	if rnaDigits.MatchString(normalized) {
		return "W" + normalized
	}

	return normalized
}

func SIRENFromSIRET(s string) string {
	normalized := Normalize(s)
	if !ValidateSIRET(normalized) {
		return ""
	}

	return normalized[:9]
}

// luhn walks the digits from the right, doubling every second one.
func luhn(s string) bool {
	total := 0

	for i := 0; i < len(s); i++ {
		digit := int(s[len(s)-1-i] - '0')

		if i%2 == 1 {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		total += digit
	}

	return total%10 == 0
}
