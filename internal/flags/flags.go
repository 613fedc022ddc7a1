// Package flags holds the feature flags read from the flags section of the
// config file. Missing flags are off.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/whiteboard/internal/log"
)

const (
	// FlagJournal persists the activation journal to SQLite. When off the
	// journal is kept in memory for the lifetime of the process.
	FlagJournal = "journal"

	// FlagWatchProviders reloads provider declarations when their directory
	// changes.
	FlagWatchProviders = "watch-providers"
)

// Known describes every flag the whiteboard reads.
var Known = map[string]string{
	FlagJournal:        "persist the activation journal to SQLite",
	FlagWatchProviders: "reload provider declarations on change",
}

// IsKnown reports whether name is a flag the whiteboard reads.
func IsKnown(name string) bool {
	_, ok := Known[name]
	return ok
}

// Names returns the known flag names, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(Known))
}

// Registry is a read-only set of flag values.
type Registry struct {
	flags map[string]bool
}

// New copies flags into a Registry. A nil map disables everything.
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: maps.Clone(flags)}
	if r.flags == nil {
		r.flags = make(map[string]bool)
	}
	for name := range r.flags {
		if !IsKnown(name) {
			log.Warn(log.CatConfig, "Unknown feature flag in config", "flag", name)
		}
	}
	log.Debug(log.CatConfig, "Feature flags initialized", "flags", r.All())
	return r
}

// Enabled reports whether name is on. Nil registries and missing flags
// report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	return r.flags[name]
}

// All returns a copy of the configured values.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	return maps.Clone(r.flags)
}
