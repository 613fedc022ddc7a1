package declare

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/registry"
)

// Result lists what a Sync changed, by declaration name.
type Result struct {
	Added    []string `json:"added"`
	Replaced []string `json:"replaced"`
	Removed  []string `json:"removed"`
}

// Changed reports whether anything was registered or unregistered.
func (r Result) Changed() bool {
	return len(r.Added)+len(r.Replaced)+len(r.Removed) > 0
}

type live struct {
	decl Declaration
	reg  *registry.Registration
}

// Syncer keeps the registry in line with a set of declarations.
type Syncer struct {
	reg registry.Registry

	mu   sync.Mutex
	live map[string]live
}

// NewSyncer creates a syncer registering into reg.
func NewSyncer(reg registry.Registry) *Syncer {
	return &Syncer{reg: reg, live: make(map[string]live)}
}

// Sync registers new declarations, unregisters vanished ones and replaces
// changed ones with an unregister followed by a register. A declaration that
// fails to register is reported and skipped; the others are still applied.
func (s *Syncer) Sync(decls []Declaration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]Declaration, len(decls))
	for _, d := range decls {
		want[d.Name] = d
	}

	var (
		res  Result
		errs []error
	)
	for _, name := range slices.Sorted(maps.Keys(s.live)) {
		if _, ok := want[name]; ok {
			continue
		}
		s.live[name].reg.Unregister()
		delete(s.live, name)
		res.Removed = append(res.Removed, name)
	}

	for _, name := range slices.Sorted(maps.Keys(want)) {
		d := want[name]
		cur, exists := s.live[name]
		if exists && reflect.DeepEqual(cur.decl, d) {
			continue
		}
		if exists {
			cur.reg.Unregister()
			delete(s.live, name)
		}

		r, err := s.register(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("declaration %s: %w", name, err))
			if exists {
				res.Removed = append(res.Removed, name)
			}
			continue
		}
		s.live[name] = live{decl: d, reg: r}
		if exists {
			res.Replaced = append(res.Replaced, name)
		} else {
			res.Added = append(res.Added, name)
		}
	}

	if res.Changed() {
		log.Info(log.CatConfig, "Declarations synced",
			"added", len(res.Added), "replaced", len(res.Replaced), "removed", len(res.Removed))
	}
	return res, errors.Join(errs...)
}

func (s *Syncer) register(d Declaration) (*registry.Registration, error) {
	svc, classes, err := d.Service()
	if err != nil {
		return nil, err
	}
	return s.reg.Register(d.Origin(), svc, d.RegistryProperties(), classes...)
}

// Registered returns the names of the registered declarations, sorted.
func (s *Syncer) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.live))
}

// ServiceID returns the registry id of a registered declaration.
func (s *Syncer) ServiceID(name string) (registry.ServiceID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.live[name]
	if !ok {
		return 0, false
	}
	return l.reg.ID(), true
}

// Close unregisters every declaration.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, l := range s.live {
		l.reg.Unregister()
		delete(s.live, name)
	}
}
