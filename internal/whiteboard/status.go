package whiteboard

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/whiteboard/internal/registry"
)

// Stage names where a provider failure happened.
const (
	StageConfig   = "config"
	StageActivate = "activate"
	StageAttach   = "attach"
)

// EndpointInfo describes a published endpoint.
type EndpointInfo struct {
	ProviderID registry.ServiceID `json:"provider_id"`
	Kind       Kind               `json:"kind"`
	Address    string             `json:"address"`
}

// Binding relates a filter provider to an endpoint it is attached to.
type Binding struct {
	FilterID   registry.ServiceID `json:"filter_id"`
	EndpointID registry.ServiceID `json:"endpoint_id"`
	Address    string             `json:"address"`
}

// Failure is the last error seen for a provider.
type Failure struct {
	ProviderID registry.ServiceID `json:"provider_id"`
	Kind       Kind               `json:"kind"`
	Stage      string             `json:"stage"`
	Error      string             `json:"error"`
	At         time.Time          `json:"at"`
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Running   bool           `json:"running"`
	RunID     string         `json:"run_id,omitempty"`
	Endpoints []EndpointInfo `json:"endpoints"`
	Bindings  []Binding      `json:"bindings"`
	Failures  []Failure      `json:"failures"`
}

type bindingKey struct {
	filter   registry.ServiceID
	endpoint registry.ServiceID
}

// statusBook holds the live state reported by Engine.Status.
type statusBook struct {
	mu        sync.Mutex
	endpoints map[registry.ServiceID]EndpointInfo
	bindings  map[bindingKey]Binding
	failures  map[registry.ServiceID]Failure
	now       func() time.Time
}

func newStatusBook() *statusBook {
	return &statusBook{
		endpoints: make(map[registry.ServiceID]EndpointInfo),
		bindings:  make(map[bindingKey]Binding),
		failures:  make(map[registry.ServiceID]Failure),
		now:       time.Now,
	}
}

func (s *statusBook) addEndpoint(info EndpointInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[info.ProviderID] = info
}

func (s *statusBook) removeEndpoint(id registry.ServiceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, id)
}

func (s *statusBook) addBinding(b Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[bindingKey{b.FilterID, b.EndpointID}] = b
}

func (s *statusBook) removeBinding(b Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, bindingKey{b.FilterID, b.EndpointID})
}

func (s *statusBook) fail(desc Descriptor, stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[desc.ID] = Failure{
		ProviderID: desc.ID,
		Kind:       desc.Kind,
		Stage:      stage,
		Error:      err.Error(),
		At:         s.now(),
	}
}

func (s *statusBook) clearFailure(id registry.ServiceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, id)
}

func (s *statusBook) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.endpoints)
	clear(s.bindings)
	clear(s.failures)
}

func (s *statusBook) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Endpoints: make([]EndpointInfo, 0, len(s.endpoints)),
		Bindings:  make([]Binding, 0, len(s.bindings)),
		Failures:  make([]Failure, 0, len(s.failures)),
	}
	for _, e := range s.endpoints {
		st.Endpoints = append(st.Endpoints, e)
	}
	for _, b := range s.bindings {
		st.Bindings = append(st.Bindings, b)
	}
	for _, f := range s.failures {
		st.Failures = append(st.Failures, f)
	}

	slices.SortFunc(st.Endpoints, func(a, b EndpointInfo) int {
		if c := strings.Compare(a.Address, b.Address); c != 0 {
			return c
		}
		return int(a.ProviderID - b.ProviderID)
	})
	slices.SortFunc(st.Bindings, func(a, b Binding) int {
		if a.FilterID != b.FilterID {
			return int(a.FilterID - b.FilterID)
		}
		return strings.Compare(a.Address, b.Address)
	})
	slices.SortFunc(st.Failures, func(a, b Failure) int {
		return int(a.ProviderID - b.ProviderID)
	})
	return st
}
