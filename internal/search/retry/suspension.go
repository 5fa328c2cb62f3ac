package retry

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// suspensionScope is the worker-owned view of which entity types have live
// incremental repair suspended because a full reindex job is running.
//
// The scope is a pure function of the currently active reindex job,
// recomputed on a fixed refresh interval; correctness only requires
// convergence within one interval, not instantaneous accuracy.
type suspensionScope struct {
	mu             sync.RWMutex
	signature      string
	suspendedTypes map[string]struct{}
	suspendAll     bool
}

func newSuspensionScope() *suspensionScope {
	return &suspensionScope{suspendedTypes: make(map[string]struct{})}
}

// signatureFor derives the scope's change-detection signature from the
// active job and its resolved type set.
func signatureFor(jobID string, suspendedTypes map[string]struct{}, suspendAll bool) string {
	sorted := make([]string, 0, len(suspendedTypes))
	for t := range suspendedTypes {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)
	return jobID + "|" + strconv.FormatBool(suspendAll) + "|" + strings.Join(sorted, ",")
}

// currentSignature returns the last published signature.
func (s *suspensionScope) currentSignature() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signature
}

// publish atomically replaces the suspension state.
func (s *suspensionScope) publish(signature string, suspendedTypes map[string]struct{}, suspendAll bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signature = signature
	s.suspendedTypes = suspendedTypes
	s.suspendAll = suspendAll
}

// clear resets the scope to "nothing suspended". Returns true if a
// suspension was in force.
func (s *suspensionScope) clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.signature != "" || s.suspendAll || len(s.suspendedTypes) > 0
	s.signature = ""
	s.suspendedTypes = make(map[string]struct{})
	s.suspendAll = false
	return active
}

// isSuspendAll reports whether every indexed type is suspended.
func (s *suspensionScope) isSuspendAll() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspendAll
}

// isTypeSuspended reports whether one entity type is suspended.
func (s *suspensionScope) isTypeSuspended(entityType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.suspendAll {
		return true
	}
	_, ok := s.suspendedTypes[entityType]
	return ok
}

// isActive reports whether any suspension is in force.
func (s *suspensionScope) isActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspendAll || len(s.suspendedTypes) > 0
}
