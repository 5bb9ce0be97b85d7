package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 2 * time.Second

// Adapter saves and restores the guest cart through a Slot. It never returns
// storage errors to the caller: failures are logged and the cart keeps
// working in memory.
type Adapter struct {
	slot    Slot
	log     *zap.Logger
	timeout time.Duration
}

func NewAdapter(slot Slot, log *zap.Logger) *Adapter {
	return &Adapter{
		slot:    slot,
		log:     logger.OrNop(log).Named("persistence"),
		timeout: defaultTimeout,
	}
}

// Save overwrites the stored snapshot.
func (a *Adapter) Save(snap domain.Snapshot) {
	data, err := encodeSnapshot(snap)
	if err != nil {
		a.log.Warn("encode snapshot", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.slot.Write(ctx, data); err != nil {
		a.log.Warn("write snapshot", zap.Error(err), zap.Int("lines", len(snap.Lines)))
	}
}

// Load returns the stored snapshot, or false when there is none or it cannot
// be parsed.
func (a *Adapter) Load() (domain.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	data, err := a.slot.Read(ctx)
	if errors.Is(err, ErrSlotEmpty) {
		return domain.Snapshot{}, false
	}
	if err != nil {
		a.log.Warn("read snapshot", zap.Error(err))
		return domain.Snapshot{}, false
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		a.log.Warn("discarding stored snapshot", zap.Error(err))
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (a *Adapter) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.slot.Clear(ctx); err != nil {
		a.log.Warn("clear snapshot", zap.Error(err))
	}
}
