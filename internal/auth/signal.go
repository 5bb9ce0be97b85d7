package auth

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrNotAuthenticated = errors.New("user is not authenticated")

type EventKind string

const (
	LoggedIn  EventKind = "logged_in"
	LoggedOut EventKind = "logged_out"
)

type Event struct {
	Kind   EventKind
	UserID string
}

// Signal holds the current authentication state and tells observers when it
// flips. Repeated logins by the same user only refresh the token.
type Signal struct {
	// transitions serializes state changes with their notification
	transitions sync.Mutex

	mu     sync.RWMutex
	userID string
	token  string

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextID    int
}

func NewSignal() *Signal {
	return &Signal{observers: make(map[int]func(Event))}
}

func (s *Signal) Login(userID, token string) {
	s.transitions.Lock()
	defer s.transitions.Unlock()

	s.mu.Lock()
	prev := s.userID
	s.token = token
	if prev == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	s.mu.Unlock()

	if prev != "" {
		s.emit(Event{Kind: LoggedOut, UserID: prev})
	}
	s.emit(Event{Kind: LoggedIn, UserID: userID})
}

func (s *Signal) Logout() {
	s.transitions.Lock()
	defer s.transitions.Unlock()

	s.mu.Lock()
	prev := s.userID
	s.userID = ""
	s.token = ""
	s.mu.Unlock()

	if prev != "" {
		s.emit(Event{Kind: LoggedOut, UserID: prev})
	}
}

func (s *Signal) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID != ""
}

func (s *Signal) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Token returns the bearer token of the signed-in user.
func (s *Signal) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", ErrNotAuthenticated
	}
	return s.token, nil
}

// Subscribe registers fn for later transitions. Observers run on the
// goroutine that called Login or Logout.
func (s *Signal) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Signal) emit(e Event) {
	s.obsMu.Lock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
