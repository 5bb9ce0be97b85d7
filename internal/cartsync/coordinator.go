package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/clock"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPushInFlight     = errors.New("a push is already in flight")
	ErrLoadInFlight     = errors.New("remote cart is still loading")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrClosed           = errors.New("coordinator closed")
	ErrSessionEnded     = errors.New("sync session ended")
)

// RemoteCart is the backend cart the coordinator keeps in step with the
// local store.
type RemoteCart interface {
	GetCart(ctx context.Context) (*domain.RemoteCart, error)
	AddLine(ctx context.Context, productID string, quantity int) (*domain.RemoteLine, error)
	UpdateLine(ctx context.Context, lineID string, quantity int) (*domain.RemoteLine, error)
	DeleteLine(ctx context.Context, lineID string) error
}

// Store is the part of the cart store the coordinator reads and, after a
// remote load, replaces.
type Store interface {
	Lines() []domain.CartLine
	ReplaceAll(lines []domain.CartLine, source store.Source)
}

type Config struct {
	Debounce       time.Duration
	MaxConcurrency int
	// RequestTimeout bounds a whole push or load, not a single request.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:       3 * time.Second,
		MaxConcurrency: 4,
		RequestTimeout: 15 * time.Second,
	}
}

type transition struct {
	state domain.SyncState
	err   error
}

// Coordinator pushes local cart changes to the backend after a quiet period
// and loads the backend cart when a user signs in. At most one push runs at
// a time; changes made during a push are picked up by a follow-up push.
type Coordinator struct {
	remote RemoteCart
	store  Store
	clock  clock.Clock
	cfg    Config
	log    *zap.Logger
	loads  singleflight.Group
	pushes sync.WaitGroup

	mu                   sync.Mutex
	state                domain.SyncState
	lastErr              error
	timer                *clock.Timer
	pushing              bool
	followUp             bool
	loading              bool
	dirty                bool
	loadedFromRemoteOnce bool
	authenticated        bool
	closed               bool
	// gen changes on every login and logout; work started under an older
	// generation must not touch the current one.
	gen uint64
	// pushDone is closed when the most recently started push has made its
	// last remote call; cancelPush aborts it.
	pushDone   chan struct{}
	cancelPush context.CancelFunc
	listener   func(domain.SyncState, error)
	pending  []transition
}

func NewCoordinator(remote RemoteCart, st Store, cfg Config, clk clock.Clock, log *zap.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Coordinator{
		remote: remote,
		store:  st,
		clock:  clk,
		cfg:    cfg,
		log:    logger.OrNop(log).Named("cartsync"),
		state:  domain.SyncStateIdle,
	}
}

// OnStateChange registers fn to be called after every state transition. It
// must be set before the coordinator is used.
func (c *Coordinator) OnStateChange(fn func(state domain.SyncState, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

func (c *Coordinator) State() domain.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the failure of the most recent push, nil after a success.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Notify is registered as a store observer. A replace coming from the remote
// load is never pushed back.
func (c *Coordinator) Notify(change store.Change) {
	c.mu.Lock()
	defer c.unlockAndEmit()

	if !c.authenticated || c.closed {
		return
	}
	if change.Op == store.OpReplace && change.Source == store.SourceRemote {
		if c.loadedFromRemoteOnce {
			c.loadedFromRemoteOnce = false
			c.log.Debug("skipping push of freshly loaded remote cart",
				zap.Int("lines", len(change.Snapshot.Lines)))
		}
		return
	}
	if c.loading {
		c.dirty = true
		return
	}
	c.schedulePushLocked()
}

// Login starts a new sync session and replaces the local cart with the
// backend's. A failed load leaves the local cart empty and is returned.
// Concurrent calls share one load. The load waits until a push left over
// from an earlier session has stopped touching the backend. ErrSessionEnded
// is returned when the session ends before the load is applied.
func (c *Coordinator) Login(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.loading {
		c.stopTimerLocked()
		c.abortPushLocked()
		c.gen++
		c.authenticated = true
		c.loading = true
		c.dirty = false
		c.followUp = false
		c.pushing = false
		c.loadedFromRemoteOnce = false
		c.lastErr = nil
		c.setStateLocked(domain.SyncStateIdle)
	}
	gen := c.gen
	prevPush := c.pushDone
	c.unlockAndEmit()

	_, err, _ := c.loads.Do(fmt.Sprintf("login-%d", gen), func() (any, error) {
		return nil, c.load(ctx, gen, prevPush)
	})
	return err
}

// Logout ends the sync session. A running push is canceled and issues no
// further remote calls; its outcome is discarded.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	defer c.unlockAndEmit()

	c.stopTimerLocked()
	c.abortPushLocked()
	c.gen++
	c.authenticated = false
	c.loading = false
	c.dirty = false
	c.followUp = false
	c.pushing = false
	c.loadedFromRemoteOnce = false
	c.lastErr = nil
	c.setStateLocked(domain.SyncStateIdle)
}

// SyncNow pushes immediately, skipping the debounce window.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.authenticated:
		c.mu.Unlock()
		return ErrNotAuthenticated
	case c.loading:
		c.mu.Unlock()
		return ErrLoadInFlight
	case c.pushing:
		c.mu.Unlock()
		return ErrPushInFlight
	}
	c.stopTimerLocked()
	ctx, done := c.beginPushLocked(ctx)
	gen := c.gen
	c.unlockAndEmit()

	defer c.pushes.Done()
	err := c.push(ctx, gen)
	done()
	c.finishPush(gen, err)
	return err
}

// Close stops scheduling pushes and waits for running ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.pushes.Wait()
}

func (c *Coordinator) load(ctx context.Context, gen uint64, prevPush <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var (
		lines   []domain.CartLine
		cart    *domain.RemoteCart
		loadErr error
	)
	if prevPush != nil {
		select {
		case <-prevPush:
		case <-ctx.Done():
			loadErr = fmt.Errorf("wait for previous push: %w", ctx.Err())
		}
	}
	if loadErr == nil {
		cart, loadErr = c.remote.GetCart(ctx)
	}
	if loadErr != nil {
		loadErr = fmt.Errorf("load remote cart: %w", loadErr)
		logger.WithContext(ctx, c.log).Warn("remote cart load failed, treating it as empty", zap.Error(loadErr))
	} else {
		lines = cart.CartLines()
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		closed := c.closed
		c.mu.Unlock()
		c.log.Debug("discarding remote cart loaded for an ended session", zap.Error(loadErr))
		if closed {
			return ErrClosed
		}
		return ErrSessionEnded
	}
	c.loading = false
	c.loadedFromRemoteOnce = true
	dirty := c.dirty
	c.dirty = false
	c.mu.Unlock()

	c.store.ReplaceAll(lines, store.SourceRemote)
	c.log.Info("remote cart loaded", zap.Int("lines", len(lines)))

	if dirty {
		c.mu.Lock()
		if gen == c.gen && c.authenticated && !c.closed {
			c.schedulePushLocked()
		}
		c.unlockAndEmit()
	}
	return loadErr
}

func (c *Coordinator) schedulePushLocked() {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.cfg.Debounce, func() { c.fire(gen) })
	if !c.pushing {
		c.setStateLocked(domain.SyncStatePendingPush)
	}
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	defer c.unlockAndEmit()

	if gen != c.gen || c.closed || !c.authenticated {
		return
	}
	c.timer = nil
	if c.pushing {
		c.followUp = true
		return
	}
	c.startPushLocked()
}

func (c *Coordinator) startPushLocked() {
	ctx, done := c.beginPushLocked(context.Background())
	gen := c.gen
	go func() {
		defer c.pushes.Done()
		err := c.push(ctx, gen)
		done()
		c.finishPush(gen, err)
	}()
}

// beginPushLocked marks a push as running. The returned done func must be
// called once the push has made its last remote call.
func (c *Coordinator) beginPushLocked(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.RequestTimeout)
	finished := make(chan struct{})
	c.pushing = true
	c.pushDone = finished
	c.cancelPush = cancel
	c.setStateLocked(domain.SyncStatePushing)
	c.pushes.Add(1)
	return ctx, func() {
		cancel()
		close(finished)
	}
}

func (c *Coordinator) abortPushLocked() {
	if c.cancelPush != nil {
		c.cancelPush()
		c.cancelPush = nil
	}
}

// current reports whether work started under gen may still touch the
// backend.
func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.authenticated
}

func (c *Coordinator) finishPush(gen uint64, err error) {
	c.mu.Lock()
	defer c.unlockAndEmit()

	if gen != c.gen {
		c.log.Debug("push finished after its session ended", zap.Error(err))
		return
	}
	c.pushing = false
	c.cancelPush = nil
	c.lastErr = err

	switch {
	case c.followUp && !c.closed && c.authenticated:
		c.followUp = false
		c.startPushLocked()
	case c.timer != nil:
		c.setStateLocked(domain.SyncStatePendingPush)
	case err != nil:
		c.setStateLocked(domain.SyncStateError)
	default:
		c.setStateLocked(domain.SyncStateIdle)
	}
}

// push reconciles the remote cart against the store's current lines.
// Failed operations do not stop the others; all failures are returned. Once
// the session of gen has ended no further remote calls are made.
func (c *Coordinator) push(ctx context.Context, gen uint64) error {
	log := logger.WithContext(ctx, c.log)

	cart, err := c.remote.GetCart(ctx)
	if !c.current(gen) {
		log.Debug("push abandoned: session ended")
		return ErrSessionEnded
	}
	if err != nil {
		log.Warn("push aborted: remote cart unavailable", zap.Error(err))
		return fmt.Errorf("load remote cart: %w", err)
	}

	plan := Diff(cart.Lines, c.store.Lines())
	if plan.IsEmpty() {
		log.Debug("remote cart already up to date")
		return nil
	}

	var (
		mu   sync.Mutex
		errs error
	)
	record := func(err error) {
		log.Warn("remote cart operation failed", zap.Error(err))
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)
	for _, op := range plan.ToDelete {
		g.Go(func() error {
			if !c.current(gen) {
				return nil
			}
			if err := c.remote.DeleteLine(ctx, op.LineID); err != nil {
				record(fmt.Errorf("delete line %s of %s: %w", op.LineID, op.ProductID, err))
			}
			return nil
		})
	}
	for _, op := range plan.ToUpdate {
		g.Go(func() error {
			if !c.current(gen) {
				return nil
			}
			if _, err := c.remote.UpdateLine(ctx, op.LineID, op.To); err != nil {
				record(fmt.Errorf("update %s to %d: %w", op.ProductID, op.To, err))
			}
			return nil
		})
	}
	for _, op := range plan.ToAdd {
		g.Go(func() error {
			if !c.current(gen) {
				return nil
			}
			if _, err := c.remote.AddLine(ctx, op.ProductID, op.Quantity); err != nil {
				record(fmt.Errorf("add %s: %w", op.ProductID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	if !c.current(gen) {
		log.Debug("push abandoned: session ended")
		return ErrSessionEnded
	}

	log.Info("push finished",
		zap.Int("added", len(plan.ToAdd)),
		zap.Int("updated", len(plan.ToUpdate)),
		zap.Int("deleted", len(plan.ToDelete)),
		zap.Int("failed", len(multierr.Errors(errs))))
	return errs
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) setStateLocked(s domain.SyncState) {
	if s == c.state && s != domain.SyncStateError {
		return
	}
	c.state = s
	c.pending = append(c.pending, transition{state: s, err: c.lastErr})
}

// unlockAndEmit releases mu and then reports queued transitions, so the
// listener may call back into the coordinator.
func (c *Coordinator) unlockAndEmit() {
	pending := c.pending
	c.pending = nil
	fn := c.listener
	c.mu.Unlock()

	if fn == nil {
		return
	}
	for _, t := range pending {
		fn(t.state, t.err)
	}
}
