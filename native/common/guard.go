package common

import (
	"errors"
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

// StaticPauses is a mutable pause set keyed by module name.
type StaticPauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewStaticPauses returns a pause set with the listed modules paused.
func NewStaticPauses(modules ...string) *StaticPauses {
	p := &StaticPauses{paused: make(map[string]bool)}
	for _, module := range modules {
		p.Set(module, true)
	}
	return p
}

// Set toggles the pause flag for a module.
func (p *StaticPauses) Set(module string, paused bool) {
	if p == nil {
		return
	}
	module = strings.ToLower(strings.TrimSpace(module))
	if module == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	if paused {
		p.paused[module] = true
		return
	}
	delete(p.paused, module)
}

// IsPaused implements PauseView.
func (p *StaticPauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(strings.TrimSpace(module))]
}
