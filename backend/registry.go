package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	// Native > Software (Software is the fallback).
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of the registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open creates a device from the named backend.
func Open(name string, opts Options) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	a, err := factory(opts)
	if err != nil {
		return Device{}, fmt.Errorf("backend %s: %w", name, err)
	}
	return Device{Name: name, Adapter: a}, nil
}

// Default opens the best available backend based on priority.
// A backend whose factory fails is skipped with a warning.
func Default(opts Options, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var errs []error
	for _, name := range backendPriority {
		if !IsRegistered(name) {
			continue
		}
		d, err := Open(name, opts)
		if err == nil {
			logger.Info("backend: selected", "backend", name, "adapter", d.Adapter.Name())
			return d, nil
		}
		logger.Warn("backend: unavailable, trying next", "backend", name, "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Device{}, ErrBackendNotAvailable
	}
	return Device{}, errors.Join(append([]error{ErrBackendNotAvailable}, errs...)...)
}
