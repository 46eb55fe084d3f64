package orders

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// Store keeps orders in memory.
type Store struct {
	mu     sync.RWMutex
	orders map[int64]Order
	nextID atomic.Int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{orders: make(map[int64]Order)}
}

// NextID reserves a new order id.
func (s *Store) NextID() int64 {
	return s.nextID.Add(1)
}

// Get returns the order with id.
func (s *Store) Get(id int64) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// ByOwner returns the owner's orders sorted by id.
func (s *Store) ByOwner(owner string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, id := range slices.Sorted(maps.Keys(s.orders)) {
		if o := s.orders[id]; o.Owner == owner {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Store) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

// Inventory tracks stock per item. Items without an entry are not limited.
type Inventory struct {
	mu    sync.Mutex
	stock map[string]int
}

// NewInventory returns an Inventory seeded with stock.
func NewInventory(stock map[string]int) *Inventory {
	return &Inventory{stock: maps.Clone(stock)}
}

// Available returns the units left for item and whether it is tracked.
func (inv *Inventory) Available(item string) (int, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n, ok := inv.stock[item]
	return n, ok
}

// Levels returns the stock of every tracked item, sorted by item.
func (inv *Inventory) Levels() []StockLevel {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	levels := make([]StockLevel, 0, len(inv.stock))
	for _, item := range slices.Sorted(maps.Keys(inv.stock)) {
		levels = append(levels, StockLevel{Item: item, Available: inv.stock[item], Tracked: true})
	}
	return levels
}

func (inv *Inventory) reserve(item string, qty int) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	n, tracked := inv.stock[item]
	if !tracked {
		return nil
	}
	if n < qty {
		return &domain.ConstraintError{
			Constraint: "stock",
			Message:    fmt.Sprintf("only %d of %s left", n, item),
		}
	}
	inv.stock[item] = n - qty
	return nil
}

func (inv *Inventory) release(item string, qty int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if n, tracked := inv.stock[item]; tracked {
		inv.stock[item] = n + qty
	}
}

// insertOrder writes a new order.
type insertOrder struct {
	store *Store
	order Order
}

func (a insertOrder) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.store.put(a.order)
	return nil
}

func (a insertOrder) Rollback(context.Context) error {
	a.store.remove(a.order.ID)
	return nil
}

func (a insertOrder) Description() string {
	return fmt.Sprintf("insert order %d", a.order.ID)
}

// reserveStock takes units of an item out of inventory.
type reserveStock struct {
	inventory *Inventory
	item      string
	quantity  int
}

func (a reserveStock) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.inventory.reserve(a.item, a.quantity)
}

func (a reserveStock) Rollback(context.Context) error {
	a.inventory.release(a.item, a.quantity)
	return nil
}

func (a reserveStock) Description() string {
	return fmt.Sprintf("reserve %d of %s", a.quantity, a.item)
}

// setStatus moves an order to a new status.
type setStatus struct {
	store *Store
	order Order
	to    Status
}

func (a setStatus) Execute(context.Context) error {
	next := a.order
	next.Status = a.to
	a.store.put(next)
	return nil
}

func (a setStatus) Rollback(context.Context) error {
	a.store.put(a.order)
	return nil
}

func (a setStatus) Description() string {
	return fmt.Sprintf("set order %d %s", a.order.ID, a.to)
}

// releaseStock returns units of a canceled order to inventory.
type releaseStock struct {
	inventory *Inventory
	item      string
	quantity  int
}

func (a releaseStock) Execute(context.Context) error {
	a.inventory.release(a.item, a.quantity)
	return nil
}

func (a releaseStock) Rollback(context.Context) error {
	return a.inventory.reserve(a.item, a.quantity)
}

func (a releaseStock) Description() string {
	return fmt.Sprintf("release %d of %s", a.quantity, a.item)
}

var (
	_ domain.Action = insertOrder{}
	_ domain.Action = releaseStock{}
	_ domain.Action = reserveStock{}
	_ domain.Action = setStatus{}
)
