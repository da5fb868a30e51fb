package workflow

import (
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// record holds one workflow and its lifecycle machine. mu serializes every
// mutation of the workflow.
type record struct {
	mu      sync.Mutex
	wf      Workflow
	machine *fsm.FSM
}

func newRecord(wf Workflow) *record {
	return &record{wf: wf, machine: newMachine(wf.Status)}
}

func (r *record) snapshot() Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wf.clone()
}

type store struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string
}

func newStore() *store {
	return &store{records: make(map[string]*record)}
}

func (s *store) add(r *record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.wf.ID]; exists {
		return fmt.Errorf("workflow %s: %w", r.wf.ID, ErrDuplicateWorkflow)
	}
	s.records[r.wf.ID] = r
	s.order = append(s.order, r.wf.ID)
	return nil
}

func (s *store) get(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}
	return r, nil
}

// all returns records in creation order
func (s *store) all() []*record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// filter returns snapshots of the workflows keep accepts, in creation order
func (s *store) filter(keep func(Workflow) bool) []Workflow {
	out := []Workflow{}
	for _, r := range s.all() {
		if wf := r.snapshot(); keep(wf) {
			out = append(out, wf)
		}
	}
	return out
}
