package backend

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type Capability string

const (
	CapabilityData      Capability = "data"
	CapabilityDocuments Capability = "documents"
	CapabilityEvents    Capability = "events"
)

var Capabilities = []Capability{CapabilityData, CapabilityDocuments, CapabilityEvents}

func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Capabilities, c) {
		return c, nil
	}

	return "", fmt.Errorf("%w %q: must be data, documents or events", ErrInvalidCapability, s)
}

// Cost is the relative price of one request. Free requests always sort first.
type Cost struct {
	Free   bool
	Amount float64
}

func Free() Cost {
	return Cost{Free: true}
}

func Paid(amount float64) Cost {
	return Cost{Amount: amount}
}

func (c Cost) Less(other Cost) bool {
	if c.Free != other.Free {
		return c.Free
	}

	return c.Amount < other.Amount
}

func (c Cost) String() string {
	if c.Free {
		return "free"
	}

	return strconv.FormatFloat(c.Amount, 'f', -1, 64)
}

func (c Cost) MarshalJSON() ([]byte, error) {
	if c.Free {
		return json.Marshal("free")
	}

	return json.Marshal(c.Amount)
}

// Descriptor is the static metadata of a backend. It is built once by the
// backend constructor and never mutated.
type Descriptor struct {
	Name             string              `json:"name"`
	DisplayName      string              `json:"display_name"`
	Description      string              `json:"description,omitempty"`
	CountryCode      string              `json:"country_code"`
	Continent        string              `json:"continent"`
	CanFetchData     bool                `json:"can_fetch_company_data"`
	CanFetchDocs     bool                `json:"can_fetch_documents"`
	CanFetchEvents   bool                `json:"can_fetch_events"`
	ConfigKeys       []string            `json:"config_keys"`
	ConfigDefaults   map[string]string   `json:"config_defaults,omitempty"`
	RequiredPackages []string            `json:"required_packages"`
	RequestCost      map[Capability]Cost `json:"request_cost"`
	DocumentationURL string              `json:"documentation_url,omitempty"`
	SiteURL          string              `json:"site_url,omitempty"`
	StatusURL        string              `json:"status_url,omitempty"`
	APIURL           string              `json:"api_url,omitempty"`
}

func (d Descriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}

	return strings.ReplaceAll(d.Name, "_", " ")
}

func (d Descriptor) Supports(c Capability) bool {
	switch c {
	case CapabilityData:
		return d.CanFetchData
	case CapabilityDocuments:
		return d.CanFetchDocs
	case CapabilityEvents:
		return d.CanFetchEvents
	default:
		return false
	}
}

func (d Descriptor) CostFor(c Capability) (Cost, bool) {
	cost, ok := d.RequestCost[c]
	return cost, ok
}

// SortByCost orders items by their request cost for c. Free comes first,
// then numeric costs ascending, then items that declare no cost. Ties keep
// their input order.
func SortByCost[T any](items []T, c Capability, descriptor func(T) Descriptor) {
	slices.SortStableFunc(items, func(a, b T) int {
		ca, oka := descriptor(a).CostFor(c)
		cb, okb := descriptor(b).CostFor(c)

		switch {
		case oka && !okb:
			return -1
		case !oka && okb:
			return 1
		case !oka && !okb:
			return 0
		case ca.Less(cb):
			return -1
		case cb.Less(ca):
			return 1
		default:
			return 0
		}
	})
}
