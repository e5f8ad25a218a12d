// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmp

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/microbench/pkg/bench"
)

// Factory builds a payload from its parameters. It runs in every process
// that executes the payload, so it must not depend on coordinator state.
type Factory func(params Params) (bench.Payload, error)

// Info describes a registered payload.
type Info struct {
	Name        string
	Description string
}

type registration struct {
	info    Info
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register makes a payload available by name. Worker processes resolve the
// name through the same registry, so registration must happen in package
// init of a package linked into the binary. Register panics on a duplicate
// name or nil factory.
func Register(name, description string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("benchmp: Register factory is nil for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("benchmp: Register called twice for " + name)
	}
	registry[name] = registration{
		info:    Info{Name: name, Description: description},
		factory: f,
	}
}

func lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, name)
	}
	return r.factory, nil
}

// Build constructs the named payload.
func Build(name string, params Params) (bench.Payload, error) {
	f, err := lookup(name)
	if err != nil {
		return nil, err
	}
	p, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return p, nil
}

// Registered lists the registered payloads sorted by name.
func Registered() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Info, 0, len(registry))
	for _, r := range registry {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
