// Package declare turns YAML provider declarations into registry services.
//
// A declarations directory holds *.yaml files of the form
//
//	providers:
//	  - name: hello
//	    kind: text
//	    path: /hello
//	    body: hi
//	    properties:
//	      osgi.jaxrs.resource.base: /api
//
// Each declaration has a built-in behavior selected by kind and free-form
// registry properties that decide how the whiteboard treats it.
package declare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zjrosen/whiteboard/internal/bus"
	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/whiteboard"
)

// Declaration kinds.
const (
	KindText      = "text"
	KindJSON      = "json"
	KindHeader    = "header"
	KindExtension = "extension"
)

// Object classes declared services are registered under.
const (
	ClassResource    = "declare.Resource"
	ClassApplication = "declare.Application"
	ClassFilter      = "declare.Filter"
	ClassExtension   = "declare.Extension"
)

// PropName carries the declaration name on the registered service.
const PropName = "declare.name"

var (
	// ErrInvalid marks a declaration that cannot be registered.
	ErrInvalid = errors.New("invalid declaration")
	// ErrDuplicateName is returned when two declarations share a name.
	ErrDuplicateName = errors.New("duplicate declaration name")
)

// File is the root of a declarations file.
type File struct {
	Providers []Declaration `yaml:"providers"`
}

// Declaration describes one provider.
type Declaration struct {
	Name       string         `yaml:"name" json:"name"`
	Kind       string         `yaml:"kind" json:"kind"`
	Path       string         `yaml:"path,omitempty" json:"path,omitempty"`
	Status     int            `yaml:"status,omitempty" json:"status,omitempty"`
	Body       any            `yaml:"body,omitempty" json:"body,omitempty"`
	Header     Header         `yaml:"header,omitempty" json:"header,omitzero"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`

	// File is the declarations file the entry was read from.
	File string `yaml:"-" json:"file"`
}

// Header is the header a header filter sets on every response.
type Header struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Origin is the origin declared services are registered with.
func (d Declaration) Origin() origin.Origin {
	return origin.Origin("declare:" + d.File)
}

// Validate checks the fields the kind needs.
func (d Declaration) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	switch d.Kind {
	case KindText, KindJSON:
		if d.Status != 0 && (d.Status < 100 || d.Status > 599) {
			return fmt.Errorf("%w: %s: status %d out of range", ErrInvalid, d.Name, d.Status)
		}
	case KindHeader:
		if d.Header.Name == "" {
			return fmt.Errorf("%w: %s: header.name is required", ErrInvalid, d.Name)
		}
	case KindExtension:
	case "":
		return fmt.Errorf("%w: %s: kind is required", ErrInvalid, d.Name)
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalid, d.Name, d.Kind)
	}
	return nil
}

// RegistryProperties returns the properties of the declared service. An
// extension without an explicit extension name is named after the
// declaration.
func (d Declaration) RegistryProperties() registry.Properties {
	props := registry.Properties(maps.Clone(d.Properties))
	if props == nil {
		props = registry.Properties{}
	}
	props[PropName] = d.Name
	if d.Kind == KindExtension {
		if _, ok := props.Get(whiteboard.ExtensionName); !ok {
			props[whiteboard.ExtensionName] = d.Name
		}
	}
	return props
}

// Service builds the service object and the classes to register it under.
// Text and JSON declarations become applications when they carry an
// application base and resources otherwise.
func (d Declaration) Service() (any, []string, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	switch d.Kind {
	case KindText, KindJSON:
		res, err := d.resource()
		if err != nil {
			return nil, nil, err
		}
		if _, ok := d.Properties[whiteboard.ApplicationBase]; ok {
			return bus.NewSingletonApplication(d.Name, res), []string{ClassApplication}, nil
		}
		return res, []string{ClassResource}, nil
	case KindHeader:
		name, value := d.Header.Name, d.Header.Value
		return bus.FilterFunc(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add(name, value)
				next.ServeHTTP(w, r)
			})
		}), []string{ClassFilter}, nil
	default:
		return Extension{Name: d.Name}, []string{ClassExtension}, nil
	}
}

func (d Declaration) resource() (bus.Resource, error) {
	route := d.Path
	if route == "" {
		route = "/"
	}
	status := d.Status
	if status == 0 {
		status = http.StatusOK
	}

	var (
		body        []byte
		contentType string
	)
	if d.Kind == KindJSON {
		b, err := json.Marshal(d.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: body: %w", ErrInvalid, d.Name, err)
		}
		body, contentType = b, "application/json"
	} else {
		body, contentType = []byte(fmt.Sprint(valueOr(d.Body, ""))), "text/plain; charset=utf-8"
	}

	return bus.ResourceFunc(func(_ context.Context, r chi.Router) error {
		r.Get(route, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", contentType)
			w.WriteHeader(status)
			_, _ = w.Write(body)
		})
		return nil
	}), nil
}

// Extension is the service registered for extension declarations. It only
// marks its name as available to extension selectors.
type Extension struct {
	Name string
}

func valueOr(v, def any) any {
	if v == nil {
		return def
	}
	return v
}
