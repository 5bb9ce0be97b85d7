package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/auth"
	"github.com/fjod/go_cart/storefront-cart/internal/cartsync"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/fjod/go_cart/storefront-cart/internal/persistence"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Syncer keeps the cart of a signed-in user in step with the backend.
type Syncer interface {
	Notify(change store.Change)
	Login(ctx context.Context) error
	Logout()
	SyncNow(ctx context.Context) error
	State() domain.SyncState
	LastError() error
	OnStateChange(fn func(domain.SyncState, error))
	Close()
}

type Config struct {
	NoticeBuffer int
	LoginTimeout time.Duration
}

// Session wires the cart store to local persistence while the shopper is a
// guest and to the backend once they sign in.
type Session struct {
	store   *store.CartStore
	persist *persistence.Adapter
	sync    Syncer
	auth    *auth.Signal
	cfg     Config
	log     *zap.Logger
	now     func() time.Time

	notices chan Notice

	mu     sync.Mutex
	unsubs []func()
}

func New(st *store.CartStore, persist *persistence.Adapter, syncer Syncer, signal *auth.Signal, cfg Config, log *zap.Logger) *Session {
	if cfg.NoticeBuffer <= 0 {
		cfg.NoticeBuffer = 16
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 15 * time.Second
	}
	return &Session{
		store:   st,
		persist: persist,
		sync:    syncer,
		auth:    signal,
		cfg:     cfg,
		log:     logger.OrNop(log).Named("session"),
		now:     time.Now,
		notices: make(chan Notice, cfg.NoticeBuffer),
	}
}

// Init restores the guest cart, or loads the backend cart when a user is
// already signed in, and starts following cart and auth changes.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	s.unsubs = append(s.unsubs,
		s.store.Subscribe(s.onCartChange),
		s.auth.Subscribe(s.onAuthEvent),
	)
	s.mu.Unlock()
	s.sync.OnStateChange(s.onSyncState)

	if s.auth.Authenticated() {
		return s.loadRemote(ctx)
	}

	snap, ok := s.persist.Load()
	if ok {
		s.store.ReplaceAll(snap.Lines, store.SourcePersisted)
		s.log.Info("guest cart restored", zap.Int("items", snap.ItemCount))
	}
	return nil
}

// Teardown stops following changes and shuts the syncer down.
func (s *Session) Teardown() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	s.sync.Close()
}

func (s *Session) Snapshot() domain.Snapshot {
	return s.store.Snapshot()
}

func (s *Session) SyncState() (domain.SyncState, error) {
	return s.sync.State(), s.sync.LastError()
}

func (s *Session) Authenticated() bool {
	return s.auth.Authenticated()
}

func (s *Session) UserID() string {
	return s.auth.UserID()
}

func (s *Session) Login(userID, token string) {
	s.auth.Login(userID, token)
}

func (s *Session) Logout() {
	s.auth.Logout()
}

func (s *Session) AddItem(id, name string, price decimal.Decimal, quantity int) {
	s.store.AddItem(id, name, price, quantity)
	s.notice(NoticeAdd, fmt.Sprintf("Added %s to your cart", displayName(name, id)))
}

// Decrement is the "-" button: the line goes away when it reaches zero.
func (s *Session) Decrement(id string) {
	line, ok := s.store.Line(id)
	if !ok {
		return
	}
	s.store.Decrement(id)
	if line.Quantity <= 1 {
		s.notice(NoticeRemove, fmt.Sprintf("Removed %s from your cart", displayName(line.Name, id)))
	}
}

func (s *Session) Remove(id string) {
	line, ok := s.store.Line(id)
	if !ok {
		return
	}
	s.store.Remove(id)
	s.notice(NoticeRemove, fmt.Sprintf("Removed %s from your cart", displayName(line.Name, id)))
}

func (s *Session) SetQuantity(id string, quantity int) {
	line, ok := s.store.Line(id)
	if !ok {
		return
	}
	s.store.SetQuantity(id, quantity)
	if quantity <= 0 {
		s.notice(NoticeRemove, fmt.Sprintf("Removed %s from your cart", displayName(line.Name, id)))
	}
}

func (s *Session) Clear() {
	if s.store.ItemCount() == 0 {
		return
	}
	s.store.Clear()
	s.notice(NoticeInfo, "Your cart is now empty")
}

// SyncNow pushes the signed-in user's cart without waiting for the
// debounce window.
func (s *Session) SyncNow(ctx context.Context) error {
	return s.sync.SyncNow(ctx)
}

// CheckoutCompleted empties the cart when the checkout belongs to the
// signed-in user. It reports whether the cart was cleared.
func (s *Session) CheckoutCompleted(userID string) bool {
	if userID == "" || s.auth.UserID() != userID {
		return false
	}
	s.store.Clear()
	s.notice(NoticeInfo, "Thanks for your order")
	return true
}

// Notices delivers notices as they happen. Notices nobody reads are dropped
// once the buffer is full.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// DrainNotices returns every notice buffered so far.
func (s *Session) DrainNotices() []Notice {
	var out []Notice
	for {
		select {
		case n := <-s.notices:
			out = append(out, n)
		default:
			return out
		}
	}
}

func (s *Session) onCartChange(change store.Change) {
	if change.Source == store.SourcePersisted {
		return
	}
	if s.auth.Authenticated() {
		s.sync.Notify(change)
		return
	}
	s.persist.Save(change.Snapshot)
}

func (s *Session) onAuthEvent(e auth.Event) {
	switch e.Kind {
	case auth.LoggedIn:
		s.log.Info("user signed in", zap.String("user_id", e.UserID))
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LoginTimeout)
		defer cancel()
		_ = s.loadRemote(ctx)
	case auth.LoggedOut:
		s.log.Info("user signed out", zap.String("user_id", e.UserID))
		s.sync.Logout()
		s.store.Clear()
		s.persist.Clear()
	}
}

func (s *Session) loadRemote(ctx context.Context) error {
	if err := s.sync.Login(ctx); err != nil {
		if errors.Is(err, cartsync.ErrSessionEnded) {
			s.log.Debug("signed out before the saved cart arrived")
			return err
		}
		logger.WithContext(ctx, s.log).Warn("could not load saved cart", zap.Error(err))
		s.notice(NoticeInfo, "We couldn't load your saved cart")
		return err
	}
	return nil
}

func (s *Session) onSyncState(state domain.SyncState, err error) {
	if state != domain.SyncStateError {
		return
	}
	s.log.Warn("cart sync failed", zap.Error(err))
	s.notice(NoticeInfo, "Your cart couldn't be saved to your account yet")
}

func (s *Session) notice(kind NoticeKind, message string) {
	n := Notice{Kind: kind, Message: message, At: s.now()}
	select {
	case s.notices <- n:
	default:
		s.log.Debug("notice dropped", zap.String("kind", string(kind)))
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
