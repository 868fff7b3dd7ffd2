package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-process PauseView toggled by operators.
type PauseSet struct {
	mu      sync.RWMutex
	modules map[string]struct{}
}

// NewPauseSet returns a set with the supplied modules paused.
func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{modules: make(map[string]struct{})}
	for _, module := range modules {
		set.Set(module, true)
	}
	return set
}

// Set pauses or resumes module.
func (s *PauseSet) Set(module string, paused bool) {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.modules[key] = struct{}{}
		return
	}
	delete(s.modules, key)
}

func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.modules[strings.ToLower(strings.TrimSpace(module))]
	return ok
}

// Paused lists the paused modules in sorted order.
func (s *PauseSet) Paused() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.modules))
	for module := range s.modules {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}
