package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(s *Signal) *[]Event {
	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })
	return &events
}

func TestSignal_LoginLogout(t *testing.T) {
	s := NewSignal()
	events := record(s)

	assert.False(t, s.Authenticated())
	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	s.Login("u1", "tok")
	assert.True(t, s.Authenticated())
	assert.Equal(t, "u1", s.UserID())
	token, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	s.Logout()
	assert.False(t, s.Authenticated())
	assert.Empty(t, s.UserID())

	assert.Equal(t, []Event{
		{Kind: LoggedIn, UserID: "u1"},
		{Kind: LoggedOut, UserID: "u1"},
	}, *events)
}

func TestSignal_DuplicateTransitionsIgnored(t *testing.T) {
	s := NewSignal()
	events := record(s)

	s.Logout()
	s.Login("u1", "a")
	s.Login("u1", "b")
	s.Logout()
	s.Logout()

	assert.Len(t, *events, 2)
}

func TestSignal_RefreshUpdatesToken(t *testing.T) {
	s := NewSignal()
	s.Login("u1", "a")
	s.Login("u1", "b")

	token, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", token)
}

func TestSignal_SwitchingUsers(t *testing.T) {
	s := NewSignal()
	events := record(s)

	s.Login("u1", "a")
	s.Login("u2", "b")

	assert.Equal(t, []Event{
		{Kind: LoggedIn, UserID: "u1"},
		{Kind: LoggedOut, UserID: "u1"},
		{Kind: LoggedIn, UserID: "u2"},
	}, *events)
}

func TestSignal_Unsubscribe(t *testing.T) {
	s := NewSignal()
	calls := 0
	unsubscribe := s.Subscribe(func(Event) { calls++ })

	s.Login("u1", "a")
	unsubscribe()
	s.Logout()

	assert.Equal(t, 1, calls)
}

func TestSignal_ObserverSeesNewState(t *testing.T) {
	s := NewSignal()
	var seen bool
	s.Subscribe(func(e Event) {
		if e.Kind == LoggedIn {
			seen = s.Authenticated()
		}
	})

	s.Login("u1", "a")
	assert.True(t, seen)
}

func TestSignal_CanceledContext(t *testing.T) {
	s := NewSignal()
	s.Login("u1", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
