// Package resource holds client-side state slices. Every entity the app
// fetches (leads, offers, associates, commissions, support and product
// info, the user profile) lives in a Slice and follows the same
// pending -> fulfilled / rejected lifecycle.
package resource

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the observable value of a Slice.
type State[T any] struct {
	Data      T
	Loading   bool
	Error     string
	UpdatedAt time.Time
}

// Slice is a mutex-guarded state container with subscribe/notify
// semantics. Subscribers are called synchronously, outside the lock, in
// mutation order.
type Slice[T any] struct {
	name string
	now  func() time.Time

	mu     sync.Mutex
	notify sync.Mutex
	state  State[T]
	subs   map[int]func(State[T])
	nextID int
}

// NewSlice returns an empty slice. name is used in log fields by callers.
func NewSlice[T any](name string) *Slice[T] {
	return &Slice[T]{
		name: name,
		now:  time.Now,
		subs: make(map[int]func(State[T])),
	}
}

// WithClock overrides the time source used for UpdatedAt.
func (s *Slice[T]) WithClock(now func() time.Time) *Slice[T] {
	s.now = now
	return s
}

// Name returns the slice name.
func (s *Slice[T]) Name() string { return s.name }

// Get returns a snapshot of the current state.
func (s *Slice[T]) Get() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set replaces the data, clearing the loading flag and error.
func (s *Slice[T]) Set(data T) {
	s.Update(func(st *State[T]) {
		st.Data = data
		st.Loading = false
		st.Error = ""
	})
}

// Update applies fn to the state under the lock and notifies subscribers.
// fn must not retain st.
func (s *Slice[T]) Update(fn func(st *State[T])) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	fn(&s.state)
	s.state.UpdatedAt = s.now()
	snapshot := s.state
	subs := make([]func(State[T]), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// Reset clears the state back to its zero value, e.g. on logout.
func (s *Slice[T]) Reset() {
	s.Update(func(st *State[T]) {
		*st = State[T]{}
	})
}

// Subscribe registers fn for every subsequent mutation. The returned
// function removes the subscription. fn must not mutate the slice
// synchronously.
func (s *Slice[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Run executes fetch with the standard lifecycle: loading is set before
// the call, data replaced on success, and the error message stored on
// failure (data is left untouched).
func (s *Slice[T]) Run(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	s.Update(func(st *State[T]) {
		st.Loading = true
		st.Error = ""
	})

	data, err := fetch(ctx)
	if err != nil {
		s.Update(func(st *State[T]) {
			st.Loading = false
			st.Error = Message(err)
		})
		var zero T
		return zero, err
	}

	s.Set(data)
	return data, nil
}

// UserMessager is implemented by errors that carry a message meant for
// display rather than for logs.
type UserMessager interface {
	UserMessage() string
}

// Message converts err into the human-readable string stored in State.Error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var um UserMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return err.Error()
}
