package backend

import (
	"sort"
	"strings"
	"sync"
)

const (
	StatusAvailable       = "available"
	StatusMissingPackages = "missing_packages"
	StatusMissingConfig   = "missing_config"
)

// Probe reports whether an external prerequisite of a backend, such as a
// browser runtime, is installed and usable.
type Probe func() error

var (
	probesMu sync.RWMutex
	probes   = map[string]Probe{}
)

// RegisterProbe makes a required package known to the evaluator. It panics
// on duplicates like database/sql.Register does.
func RegisterProbe(name string, probe Probe) {
	probesMu.Lock()
	defer probesMu.Unlock()

	if probe == nil {
		panic("backend: RegisterProbe probe is nil")
	}

	if _, dup := probes[name]; dup {
		panic("backend: RegisterProbe called twice for " + name)
	}

	probes[name] = probe
}

// Probes lists registered probe names in order.
func Probes() []string {
	probesMu.RLock()
	defer probesMu.RUnlock()

	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// CheckPackage runs the probe registered for name, retrying with hyphens
// replaced by underscores.
func CheckPackage(name string) bool {
	probesMu.RLock()
	probe, ok := probes[name]
	if !ok {
		probe, ok = probes[strings.ReplaceAll(name, "-", "_")]
	}
	probesMu.RUnlock()

	if !ok {
		return false
	}

	return probe() == nil
}

type Status struct {
	Descriptor      Descriptor      `json:"descriptor"`
	Status          string          `json:"status"`
	IsAvailable     bool            `json:"is_available"`
	Packages        map[string]bool `json:"packages"`
	Config          map[string]bool `json:"config"`
	MissingPackages []string        `json:"missing_packages"`
	MissingConfig   []string        `json:"missing_config"`
}

// Evaluate computes the availability of a backend. It has no side effects
// and is recomputed on every call.
func Evaluate(desc Descriptor, cfg Config) Status {
	status := Status{
		Descriptor:      desc,
		Packages:        make(map[string]bool, len(desc.RequiredPackages)),
		Config:          make(map[string]bool, len(desc.ConfigKeys)),
		MissingPackages: []string{},
		MissingConfig:   []string{},
	}

	for _, pkg := range desc.RequiredPackages {
		installed := CheckPackage(pkg)

		status.Packages[pkg] = installed
		if !installed {
			status.MissingPackages = append(status.MissingPackages, pkg)
		}
	}

	for _, key := range desc.ConfigKeys {
		_, present := cfg.Resolve(desc.Name, key, desc.ConfigDefaults[key])

		status.Config[key] = present
		if !present {
			status.MissingConfig = append(status.MissingConfig, key)
		}
	}

	switch {
	case len(status.MissingPackages) > 0:
		status.Status = StatusMissingPackages
	case len(status.MissingConfig) > 0:
		status.Status = StatusMissingConfig
	default:
		status.Status = StatusAvailable
	}

	status.IsAvailable = status.Status == StatusAvailable

	return status
}
