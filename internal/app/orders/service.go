package orders

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/app/async"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/app/result"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

// streamBuffer is the number of orders order:list emits ahead of delivery.
const streamBuffer = 16

// Service implements the order actions.
type Service struct {
	store     *Store
	inventory *Inventory
	logger    *slog.Logger
	now       func() time.Time
}

var _ registry.Module = (*Service)(nil)

// NewService creates a Service over store and inventory.
func NewService(store *Store, inventory *Inventory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, inventory: inventory, logger: logger, now: time.Now}
}

// Actions implements registry.Module.
func (s *Service) Actions() []registry.Definition {
	return []registry.Definition{
		{Scope: Scope, Name: "create", Handler: s.Create, Description: "Place an order and reserve its stock."},
		{Scope: Scope, Name: "get", Handler: s.Get, Description: "Fetch one of the caller's orders by body reference."},
		{Scope: Scope, Name: "byId", Handler: s.ByID, Description: "Fetch one of the caller's orders by the id argument."},
		{Scope: Scope, Name: "list", Handler: s.List, Description: "Stream the caller's orders."},
		{Scope: Scope, Name: "summary", Handler: s.Summary, Description: "Summarize the caller's orders."},
		{Scope: Scope, Name: "cancel", Handler: s.Cancel, Description: "Cancel an order and release its stock."},
		{Scope: Scope, Name: "stock", Handler: s.Stock, Description: "Report the stock left for one item."},
		{Scope: Scope, Name: "items", Handler: s.Items, Description: "Stream the stock of every tracked item."},
		{Scope: Scope, Name: "whoami", Handler: s.WhoAmI, Description: "Describe the calling principal."},
		{Scope: Scope, Name: "echo", Handler: s.Echo, Description: "Return the body text."},
	}
}

// Create places an order. The insert and the stock reservation commit as one
// step; if stock runs out the insert is rolled back.
func (s *Service) Create(rc *appctx.RequestContext, p domain.Principal, cmd CreateOrder) (*result.Response, error) {
	order := Order{
		ID:        s.store.NextID(),
		Owner:     p.Subject,
		Item:      cmd.Item,
		Quantity:  cmd.Quantity,
		Status:    StatusPlaced,
		CreatedAt: s.now().UTC(),
	}

	if err := rc.AddGroup(
		insertOrder{store: s.store, order: order},
		reserveStock{inventory: s.inventory, item: order.Item, quantity: order.Quantity},
	); err != nil {
		return nil, err
	}
	if err := rc.Commit(); err != nil {
		return nil, err
	}

	s.log(rc).InfoContext(rc, "order created",
		slog.String("operation", "Create"),
		slog.Int64("order_id", order.ID),
		slog.String("item", order.Item),
		slog.Int("quantity", order.Quantity),
	)

	return result.NewResponse(http.StatusCreated, order).
		WithHeader("Location", "/orders/"+strconv.FormatInt(order.ID, 10)), nil
}

// Get returns the order referenced in the body.
func (s *Service) Get(p domain.Principal, ref OrderRef) (Order, error) {
	return s.owned(p, ref.ID)
}

// ByID returns the order named by the id argument.
func (s *Service) ByID(p domain.Principal, id OrderID) (Order, error) {
	return s.owned(p, int64(id))
}

// List streams the caller's orders.
func (s *Service) List(ctx context.Context, p domain.Principal) *async.Stream[Order] {
	stream := async.NewStream[Order](streamBuffer)
	orders := s.store.ByOwner(p.Subject)
	go func() {
		for _, o := range orders {
			if err := stream.Emit(ctx, o); err != nil {
				stream.Close(err)
				return
			}
		}
		stream.Close(nil)
	}()
	return stream
}

// Summary computes the caller's summary asynchronously. The owner's orders
// are fetched once per call and shared with the continuation.
func (s *Service) Summary(rc *appctx.RequestContext, p domain.Principal) *async.Future[Summary] {
	owned := s.ownedOrders(p)
	if _, err := owned.Get(rc); err != nil {
		return async.Failed[Summary](err)
	}

	return async.Go(func() (Summary, error) {
		orders, err := owned.Get(rc)
		if err != nil {
			return Summary{}, err
		}
		return summarize(p.Subject, orders), nil
	})
}

func (s *Service) ownedOrders(p domain.Principal) *appctx.DataProvider[[]Order] {
	return appctx.NewDataProvider("orders:"+p.Subject, func(context.Context) ([]Order, error) {
		return s.store.ByOwner(p.Subject), nil
	})
}

// Stock reports the units left for the queried item. The level is read when
// the result is resolved, after the call's synchronous part.
func (s *Service) Stock(q StockQuery) async.Deferred[StockLevel] {
	return func() (StockLevel, error) {
		n, tracked := s.inventory.Available(q.Item)
		return StockLevel{Item: q.Item, Available: n, Tracked: tracked}, nil
	}
}

// Items streams a snapshot of every tracked item's stock.
func (s *Service) Items() *async.Stream[StockLevel] {
	return async.StreamOf(s.inventory.Levels()...)
}

// Cancel cancels a placed order and releases its stock.
func (s *Service) Cancel(rc *appctx.RequestContext, p domain.Principal, ref OrderRef) (Order, error) {
	order, err := s.owned(p, ref.ID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != StatusPlaced {
		return Order{}, &domain.ConstraintError{
			Constraint: "status",
			Message:    fmt.Sprintf("order %d is already %s", order.ID, order.Status),
		}
	}

	if err := rc.AddAction(setStatus{store: s.store, order: order, to: StatusCanceled}); err != nil {
		return Order{}, err
	}
	if err := rc.AddAction(releaseStock{inventory: s.inventory, item: order.Item, quantity: order.Quantity}); err != nil {
		return Order{}, err
	}
	if err := rc.Commit(); err != nil {
		return Order{}, err
	}

	order.Status = StatusCanceled
	return order, nil
}

// Identity is the reply of order:whoami.
type Identity struct {
	Anonymous bool     `json:"anonymous"`
	Subject   string   `json:"subject,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// WhoAmI describes the caller. It accepts anonymous calls.
func (s *Service) WhoAmI(p *domain.Principal) Identity {
	if p == nil {
		return Identity{Anonymous: true}
	}
	return Identity{Subject: p.Subject, Roles: p.Roles}
}

// Echo returns text unchanged.
func (s *Service) Echo(text string) string {
	return text
}

// owned returns order id if the caller owns it or is an admin. Orders owned
// by someone else are reported as not found to non-admins.
func (s *Service) owned(p domain.Principal, id int64) (Order, error) {
	order, ok := s.store.Get(id)
	if !ok || (order.Owner != p.Subject && !p.HasRole(RoleAdmin)) {
		return Order{}, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return order, nil
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, s.logger)
}
