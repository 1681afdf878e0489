// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"sort"
	"sync"
)

// Set is a named collection of deploy credentials held in locked
// memory. Built by LoadSet from a pipeline's deploy.secrets
// declarations; closed when the deploy stage finishes.
type Set struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
}

// LoadSet reads every declared credential file into locked memory.
// The paths map is secret name to file path. On any failure the
// already-loaded buffers are closed before the error is returned, so
// a partial load never leaks locked memory.
func LoadSet(paths map[string]string) (*Set, error) {
	set := &Set{buffers: make(map[string]*Buffer, len(paths))}

	for _, name := range sortedNames(paths) {
		buffer, err := ReadFromPath(paths[name])
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("secret %q: %w", name, err)
		}
		set.buffers[name] = buffer
	}

	return set, nil
}

// Names returns the secret names in sorted order. Names are safe to
// log; values never are.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.buffers))
	for name := range s.buffers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of credentials in the set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buffers)
}

// Env returns the credentials as an environment map for deploy
// commands. The values are heap copies made at this hand-off point;
// the locked buffers stay authoritative until Close.
func (s *Set) Env() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := make(map[string]string, len(s.buffers))
	for name, buffer := range s.buffers {
		env[name] = buffer.String()
	}
	return env
}

// Close zeroes and releases every buffer. Idempotent; returns the
// first release error encountered.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstError error
	for name, buffer := range s.buffers {
		if err := buffer.Close(); err != nil && firstError == nil {
			firstError = fmt.Errorf("closing secret %q: %w", name, err)
		}
	}
	s.buffers = map[string]*Buffer{}
	return firstError
}

func sortedNames(paths map[string]string) []string {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
