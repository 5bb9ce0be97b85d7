package store

import (
	"slices"
	"sync"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
)

// Op identifies the mutation that produced a Change.
type Op string

const (
	OpAdd         Op = "add"
	OpDecrement   Op = "decrement"
	OpRemove      Op = "remove"
	OpSetQuantity Op = "set_quantity"
	OpClear       Op = "clear"
	OpReplace     Op = "replace"
)

// Source tells observers where a ReplaceAll came from. Local user actions
// use SourceLocal.
type Source string

const (
	SourceLocal     Source = "local"
	SourceRemote    Source = "remote"
	SourcePersisted Source = "persisted"
)

// Change is delivered to observers after every mutation.
type Change struct {
	Op        Op
	Source    Source
	ProductID string
	Snapshot  domain.Snapshot
}

// CartStore holds the canonical in-memory cart. Totals are recomputed from
// lines on every mutation. The store does no I/O; observers registered with
// Subscribe react to changes.
type CartStore struct {
	// writeMu serializes mutations together with their notifications so
	// observers see changes in the order they were applied.
	writeMu sync.Mutex

	mu        sync.RWMutex
	lines     map[string]*domain.CartLine
	order     []string
	itemCount int
	subtotal  decimal.Decimal

	obsMu     sync.RWMutex
	observers map[int]func(Change)
	nextObsID int
}

func New() *CartStore {
	return &CartStore{
		lines:     make(map[string]*domain.CartLine),
		subtotal:  decimal.Zero,
		observers: make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every subsequent change. Observers run
// synchronously on the mutating goroutine, after the store lock is released,
// in registration order. An observer must not mutate the store.
func (s *CartStore) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// AddItem increments the line for id, or inserts it. A non-positive quantity
// is treated as 1.
func (s *CartStore) AddItem(id, name string, price decimal.Decimal, quantity int) {
	if quantity <= 0 {
		quantity = 1
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if line, ok := s.lines[id]; ok {
		line.Quantity += quantity
	} else {
		s.insertLocked(domain.CartLine{ID: id, Name: name, Price: price, Quantity: quantity})
	}
	change := s.changeLocked(OpAdd, SourceLocal, id)
	s.mu.Unlock()

	s.notify(change)
}

// Decrement lowers the quantity of id by one and deletes the line when it
// reaches zero. Unknown ids are ignored.
func (s *CartStore) Decrement(id string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	line, ok := s.lines[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if line.Quantity <= 1 {
		s.deleteLocked(id)
	} else {
		line.Quantity--
	}
	change := s.changeLocked(OpDecrement, SourceLocal, id)
	s.mu.Unlock()

	s.notify(change)
}

// Remove deletes the line for id whatever its quantity.
func (s *CartStore) Remove(id string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.lines[id]; !ok {
		s.mu.Unlock()
		return
	}
	s.deleteLocked(id)
	change := s.changeLocked(OpRemove, SourceLocal, id)
	s.mu.Unlock()

	s.notify(change)
}

// SetQuantity sets the absolute quantity of an existing line. A quantity of
// zero or less deletes the line.
func (s *CartStore) SetQuantity(id string, quantity int) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	line, ok := s.lines[id]
	if !ok || (quantity > 0 && line.Quantity == quantity) {
		s.mu.Unlock()
		return
	}
	if quantity <= 0 {
		s.deleteLocked(id)
	} else {
		line.Quantity = quantity
	}
	change := s.changeLocked(OpSetQuantity, SourceLocal, id)
	s.mu.Unlock()

	s.notify(change)
}

func (s *CartStore) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.lines = make(map[string]*domain.CartLine)
	s.order = nil
	change := s.changeLocked(OpClear, SourceLocal, "")
	s.mu.Unlock()

	s.notify(change)
}

// ReplaceAll swaps the whole cart for lines. Repeated ids are merged by
// summing quantities, lines with a non-positive quantity are dropped.
func (s *CartStore) ReplaceAll(lines []domain.CartLine, source Source) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.lines = make(map[string]*domain.CartLine, len(lines))
	s.order = make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 || line.ID == "" {
			continue
		}
		if existing, ok := s.lines[line.ID]; ok {
			existing.Quantity += line.Quantity
			continue
		}
		s.insertLocked(line)
	}
	change := s.changeLocked(OpReplace, source, "")
	s.mu.Unlock()

	s.notify(change)
}

func (s *CartStore) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Lines returns a copy of the lines in insertion order.
func (s *CartStore) Lines() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linesLocked()
}

func (s *CartStore) Line(id string) (domain.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	line, ok := s.lines[id]
	if !ok {
		return domain.CartLine{}, false
	}
	return *line, true
}

func (s *CartStore) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemCount
}

func (s *CartStore) Subtotal() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtotal
}

func (s *CartStore) insertLocked(line domain.CartLine) {
	l := line
	s.lines[line.ID] = &l
	s.order = append(s.order, line.ID)
}

func (s *CartStore) deleteLocked(id string) {
	delete(s.lines, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// changeLocked recomputes the cached totals and captures the change.
func (s *CartStore) changeLocked(op Op, source Source, id string) Change {
	snap := s.snapshotLocked()
	s.itemCount = snap.ItemCount
	s.subtotal = snap.Subtotal
	return Change{Op: op, Source: source, ProductID: id, Snapshot: snap}
}

func (s *CartStore) snapshotLocked() domain.Snapshot {
	return domain.NewSnapshot(s.linesLocked())
}

func (s *CartStore) linesLocked() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(s.order))
	for _, id := range s.order {
		lines = append(lines, *s.lines[id])
	}
	return lines
}

func (s *CartStore) notify(change Change) {
	s.obsMu.RLock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	fns := make([]func(Change), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}
