package registry

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrEmptyRegistry is returned when a registry is built with no services.
var ErrEmptyRegistry = errors.New("service registry contains no services")

// ServiceDescriptor describes one registered service instance.
// Descriptors are registered once at startup and never mutated afterwards.
type ServiceDescriptor struct {
	Name          string
	Endpoint      string
	Priority      int
	Timeout       time.Duration
	RetryAttempts int
}

// Registry holds registered service instances grouped by logical name.
// Registration order within a name is preserved; lookups return instances
// in that order so tie-breaks stay deterministic.
type Registry struct {
	instances map[string][]ServiceDescriptor
	names     []string
}

// New builds a Registry from the given descriptors. An empty descriptor
// list, a blank name, or an invalid endpoint is a construction error.
func New(descriptors []ServiceDescriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{instances: make(map[string][]ServiceDescriptor)}
	for i, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("service %d: name is required", i)
		}
		if err := validateEndpoint(d.Endpoint, d.Name); err != nil {
			return nil, err
		}
		if d.Timeout <= 0 {
			return nil, fmt.Errorf("service %q: timeout must be greater than zero", d.Name)
		}
		if d.RetryAttempts < 0 {
			return nil, fmt.Errorf("service %q: retry attempts cannot be negative", d.Name)
		}
		if _, ok := r.instances[d.Name]; !ok {
			r.names = append(r.names, d.Name)
		}
		r.instances[d.Name] = append(r.instances[d.Name], d)
	}
	return r, nil
}

// Instances returns all instances registered under the logical name,
// in registration order. The returned slice is a copy.
func (r *Registry) Instances(name string) []ServiceDescriptor {
	instances, ok := r.instances[name]
	if !ok {
		return nil
	}
	return append([]ServiceDescriptor(nil), instances...)
}

// Names returns all logical service names in first-registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the total number of registered instances.
func (r *Registry) Len() int {
	total := 0
	for _, instances := range r.instances {
		total += len(instances)
	}
	return total
}

func validateEndpoint(endpoint, name string) error {
	if endpoint == "" {
		return fmt.Errorf("service %q: endpoint is required", name)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("service %q: invalid endpoint: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("service %q: endpoint must include scheme and host", name)
	}
	return nil
}
