package common

import (
	"errors"
	"sync"
)

var ErrFlowPaused = errors.New("flow paused")

// PauseView answers whether a named flow (supply, borrow, liquidate, ...) is
// currently halted.
type PauseView interface {
	IsPaused(flow string) bool
}

// Guard returns ErrFlowPaused when the flow is halted. A nil view means no
// pause switchboard is wired and every flow is live.
func Guard(p PauseView, flow string) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrFlowPaused
	}
	return nil
}

// Switchboard is the in-memory PauseView used by the protocol orchestrator.
type Switchboard struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{paused: make(map[string]bool)}
}

func (s *Switchboard) SetPaused(flow string, paused bool) {
	if s == nil || flow == "" {
		return
	}
	s.mu.Lock()
	if paused {
		s.paused[flow] = true
	} else {
		delete(s.paused, flow)
	}
	s.mu.Unlock()
}

func (s *Switchboard) IsPaused(flow string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[flow]
}
