package driver

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// registry maps lower-cased names and aliases to drivers.
type registry struct {
	mu     sync.RWMutex
	byName map[string]Driver
}

var drivers = &registry{byName: map[string]Driver{}}

func (r *registry) lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}

// Register adds a driver under its name and aliases. Engine packages call
// it from init(); a duplicate key panics.
func Register(d Driver) {
	drivers.mu.Lock()
	defer drivers.mu.Unlock()

	keys := append([]string{d.Name()}, d.Aliases()...)
	for _, key := range keys {
		key = strings.ToLower(key)
		if prev, taken := drivers.byName[key]; taken {
			panic(fmt.Sprintf("driver key %q already taken by %s", key, prev.Name()))
		}
		drivers.byName[key] = d
	}
}

// Get retrieves a driver by name or alias, ignoring case.
func Get(name string) (Driver, error) {
	if d, ok := drivers.lookup(name); ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown database driver: %q (available: %s)", name, strings.Join(Available(), ", "))
}

// Canonicalize returns the primary name for an alias. Unknown names come
// back unchanged.
func Canonicalize(name string) string {
	if d, ok := drivers.lookup(name); ok {
		return d.Name()
	}
	return name
}

// Available lists the primary names of registered drivers, sorted.
func Available() []string {
	drivers.mu.RLock()
	defer drivers.mu.RUnlock()

	var names []string
	for _, d := range drivers.byName {
		if !slices.Contains(names, d.Name()) {
			names = append(names, d.Name())
		}
	}
	slices.Sort(names)
	return names
}
