package bus

import (
	"context"
	"errors"

	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

// Fallback is a requester that sends to Primary and retries on Secondary only
// when Primary has no handler for the address. Any other error, and every
// reply including failure replies, comes from Primary.
type Fallback struct {
	Primary   ports.ActionRequester
	Secondary ports.ActionRequester
}

var _ ports.ActionRequester = (*Fallback)(nil)

// Request implements ports.ActionRequester.
func (f *Fallback) Request(ctx context.Context, address string, msg *ports.Message) (*ports.Message, error) {
	reply, err := f.Primary.Request(ctx, address, msg)
	if err == nil || f.Secondary == nil || !errors.Is(err, ports.ErrNoHandler) {
		return reply, err
	}
	return f.Secondary.Request(ctx, address, msg)
}
