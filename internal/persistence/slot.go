package persistence

import (
	"context"
	"errors"
	"sync"
)

var ErrSlotEmpty = errors.New("slot is empty")

// Slot is a single named durable value holding the guest cart snapshot.
type Slot interface {
	// Read returns ErrSlotEmpty when nothing has been written.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Clear succeeds when the slot is already empty.
	Clear(ctx context.Context) error
}

// MemorySlot keeps the snapshot in process memory.
type MemorySlot struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (m *MemorySlot) Read(context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrSlotEmpty
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemorySlot) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make([]byte, len(data))
	copy(m.data, data)
	return nil
}

func (m *MemorySlot) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
