package lock

import (
	"context"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/pvnzki/eventbn-seatlock/internal/lock Publisher

// Publisher receives lock lifecycle events.  Implementations must not block
// the caller for long: Publish runs on the lock path.
type Publisher interface {
	Publish(ctx context.Context, ev model.LockEvent) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.LockEvent) error { return nil }
