// Package orders is a small order-keeping module registered on the action
// bus. Its handlers cover every parameter and result shape the binder and
// resolver support, so it doubles as the end-to-end fixture for transports.
package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// Scope is the address scope of every action in this module.
const Scope = "order"

// RoleAdmin lets a caller read and cancel orders it does not own.
const RoleAdmin = "admin"

// MaxQuantity bounds the quantity of a single order.
const MaxQuantity = 100

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPlaced   Status = "placed"
	StatusCanceled Status = "canceled"
)

// Order is a placed order.
type Order struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	Item      string    `json:"item"`
	Quantity  int       `json:"quantity"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateOrder is the command accepted by order:create.
type CreateOrder struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// Validate checks the command's fields.
func (c CreateOrder) Validate() error {
	fields := make(map[string]string)
	if strings.TrimSpace(c.Item) == "" {
		fields["item"] = "is required"
	}
	if c.Quantity < 1 || c.Quantity > MaxQuantity {
		fields["quantity"] = fmt.Sprintf("must be between 1 and %d", MaxQuantity)
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// OrderRef identifies an order in a message body.
type OrderRef struct {
	ID int64 `json:"id"`
}

// Validate checks the reference.
func (r OrderRef) Validate() error {
	if r.ID <= 0 {
		return &domain.ValidationError{Fields: map[string]string{"id": "must be positive"}}
	}
	return nil
}

// OrderID is an order id bound from the transport argument "id".
type OrderID int64

// ArgName implements binder.NamedArg.
func (OrderID) ArgName() string { return "id" }

// StockQuery is the command accepted by order:stock.
type StockQuery struct {
	Item string `json:"item"`
}

// Validate checks the query.
func (q StockQuery) Validate() error {
	if strings.TrimSpace(q.Item) == "" {
		return &domain.ValidationError{Fields: map[string]string{"item": "is required"}}
	}
	return nil
}

// StockLevel is the stock of one item. Untracked items are not limited.
type StockLevel struct {
	Item      string `json:"item"`
	Available int    `json:"available"`
	Tracked   bool   `json:"tracked"`
}

// Summary aggregates a caller's orders.
type Summary struct {
	Owner    string         `json:"owner"`
	Orders   int            `json:"orders"`
	Units    int            `json:"units"`
	ByStatus map[Status]int `json:"byStatus"`
}

func summarize(owner string, orders []Order) Summary {
	s := Summary{Owner: owner, ByStatus: make(map[Status]int)}
	for _, o := range orders {
		s.Orders++
		s.ByStatus[o.Status]++
		if o.Status == StatusPlaced {
			s.Units += o.Quantity
		}
	}
	return s
}
