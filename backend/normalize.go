package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// Paths lists the source paths of a canonical field in priority order. A
// single element is a plain dotted path.
type Paths []string

// FieldMap associates canonical field names with source paths.
type FieldMap map[string]Paths

// Override computes a composite field from the whole record. The boolean is
// false when the field cannot be derived.
type Override func(raw Raw) (any, bool)

// Normalizer applies a FieldMap and its overrides. For each field an
// override wins over the map; a field without any value is left out.
type Normalizer struct {
	Fields    FieldMap
	Overrides map[string]Override
}

func (n Normalizer) Apply(raw Raw) Normalized {
	result := Normalized{}

	for field, override := range n.Overrides {
		if v, ok := override(raw); ok && !isEmpty(v) {
			result[field] = v
		}
	}

	for field, paths := range n.Fields {
		if _, overridden := n.Overrides[field]; overridden {
			continue
		}

		if v, ok := First(raw, paths...); ok {
			result[field] = v
		}
	}

	return result
}

// First returns the value of the first path that resolves to a non-empty
// value.
func First(raw Raw, paths ...string) (any, bool) {
	for _, path := range paths {
		if v, ok := Lookup(raw, path); ok && !isEmpty(v) {
			return v, true
		}
	}

	return nil, false
}

// Lookup walks a dotted path through nested maps. Numeric segments index
// into lists: "periodesEtablissement.0.activitePrincipaleEtablissement".
func Lookup(raw Raw, path string) (any, bool) {
	if raw == nil || path == "" {
		return nil, false
	}

	var current any = raw

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		case []map[string]any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}

	return current, true
}

// String resolves the first non-empty path and formats it as a string.
func String(raw Raw, paths ...string) string {
	v, ok := First(raw, paths...)
	if !ok {
		return ""
	}

	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// JoinAddress builds "number type street, postal code, city" skipping
// absent fragments.
func JoinAddress(number, streetType, street, postalCode, city string) (string, bool) {
	var line []string

	for _, fragment := range []string{number, streetType, street} {
		if fragment = strings.TrimSpace(fragment); fragment != "" {
			line = append(line, fragment)
		}
	}

	var parts []string
	if len(line) > 0 {
		parts = append(parts, strings.Join(line, " "))
	}

	for _, fragment := range []string{postalCode, city} {
		if fragment = strings.TrimSpace(fragment); fragment != "" {
			parts = append(parts, fragment)
		}
	}

	if len(parts) == 0 {
		return "", false
	}

	return strings.Join(parts, ", "), true
}

// AddressOverride returns an Override that assembles an address from the
// five given paths.
func AddressOverride(number, streetType, street, postalCode, city string) Override {
	return func(raw Raw) (any, bool) {
		return JoinAddress(
			String(raw, number),
			String(raw, streetType),
			String(raw, street),
			String(raw, postalCode),
			String(raw, city),
		)
	}
}

func isEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	case []any:
		return len(value) == 0
	case []string:
		return len(value) == 0
	case map[string]any:
		return len(value) == 0
	default:
		return false
	}
}
