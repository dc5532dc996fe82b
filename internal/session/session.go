// Package session implements per-category polling sessions and the pool
// that owns them.
//
// A session is the long-lived polling unit for one category. It is never
// deleted: a feed that stops producing is parked (closed or waiting out a
// cooldown) and resumes later. All mutation happens from the scheduler
// loop; nothing here is safe for concurrent writers and nothing needs to be.
package session

import (
	"time"

	"github.com/hazyhaar/livewatch/internal/extract"
)

// State is a session's lifecycle state.
type State string

const (
	StateActive       State = "active"
	StateRedirected   State = "redirected"
	StateWaitingRetry State = "waiting_retry"
	StateClosed       State = "closed"
	StateError        State = "error"
)

// Session carries one category's polling health.
type Session struct {
	Category string
	Endpoint extract.Endpoint
	State    State

	ConsecutiveEmpty     int
	ConsecutiveRedirects int
	ErrorCount           int

	LastCheck   time.Time
	LastSuccess time.Time
	RetryAfter  *time.Time

	handle extract.Handle
}

// Handle returns the session's open extraction handle, or nil when parked.
func (s *Session) Handle() extract.Handle { return s.handle }

// Extractable reports whether the scheduler should fan an Extract call out
// to this session. ERROR sessions keep being retried until they cross the
// hard ceiling.
func (s *Session) Extractable(errorCeiling int) bool {
	if s.handle == nil {
		return false
	}
	switch s.State {
	case StateActive:
		return true
	case StateError:
		return s.ErrorCount <= errorCeiling
	}
	return false
}

// Parked reports whether the session is out of rotation.
func (s *Session) Parked(errorCeiling int) bool {
	return !s.Extractable(errorCeiling)
}

// markSuccess records a successful extraction of n records. Success resets
// the failure counters; an empty result is healthy but counted so cleanup
// can park feeds with nothing to say.
func (s *Session) markSuccess(n int, now time.Time) {
	s.State = StateActive
	s.ErrorCount = 0
	s.ConsecutiveRedirects = 0
	s.LastCheck = now
	s.LastSuccess = now
	if n == 0 {
		s.ConsecutiveEmpty++
	} else {
		s.ConsecutiveEmpty = 0
	}
}

// markRedirected applies the redirect transition: release the handle and
// start the cooldown. Re-applying while already parked only bumps the
// redirect counter — the cooldown is never re-charged and the handle is
// never double-released.
func (s *Session) markRedirected(now time.Time, cooldown time.Duration) {
	s.ConsecutiveRedirects++
	s.LastCheck = now

	if s.State == StateRedirected || s.State == StateWaitingRetry {
		return
	}

	s.releaseHandle()
	retry := now.Add(cooldown)
	s.RetryAfter = &retry
	s.State = StateRedirected
	s.ConsecutiveEmpty = 0
	s.ErrorCount = 0
}

// markError records a failed extraction. The session stays in rotation
// until the caller's ceiling says otherwise (Extractable).
func (s *Session) markError(now time.Time) {
	s.ErrorCount++
	s.LastCheck = now
	s.State = StateError
}

// markClosed proactively releases the handle of an idle session. No
// cooldown: the session is immediately eligible for reopening.
func (s *Session) markClosed(now time.Time) {
	s.releaseHandle()
	s.State = StateClosed
	s.LastCheck = now
}

// markReopened installs a fresh handle after a successful reopen.
func (s *Session) markReopened(h extract.Handle, now time.Time) {
	s.releaseHandle()
	s.handle = h
	s.State = StateActive
	s.ConsecutiveEmpty = 0
	s.ConsecutiveRedirects = 0
	s.ErrorCount = 0
	s.RetryAfter = nil
	s.LastCheck = now
}

// cooldownElapsed reports whether the session may be reopened at now.
func (s *Session) cooldownElapsed(now time.Time) bool {
	return s.RetryAfter == nil || !now.Before(*s.RetryAfter)
}

func (s *Session) releaseHandle() {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
}

// Status is a value copy of a session's observable state, published for
// readers outside the scheduler loop.
type Status struct {
	Category             string     `json:"category"`
	State                State      `json:"state"`
	ConsecutiveEmpty     int        `json:"consecutive_empty_checks"`
	ConsecutiveRedirects int        `json:"consecutive_redirects"`
	ErrorCount           int        `json:"error_count"`
	LastCheck            time.Time  `json:"last_check_time"`
	LastSuccess          time.Time  `json:"last_success_time"`
	RetryAfter           *time.Time `json:"retry_after,omitempty"`
}

func (s *Session) status() Status {
	st := Status{
		Category:             s.Category,
		State:                s.State,
		ConsecutiveEmpty:     s.ConsecutiveEmpty,
		ConsecutiveRedirects: s.ConsecutiveRedirects,
		ErrorCount:           s.ErrorCount,
		LastCheck:            s.LastCheck,
		LastSuccess:          s.LastSuccess,
	}
	if s.RetryAfter != nil {
		retry := *s.RetryAfter
		st.RetryAfter = &retry
	}
	return st
}
