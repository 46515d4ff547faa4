package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quickshop-io/checkout-engine/internal/entity"
)

type auditStore struct {
	s  *Store
	tx bool
}

func (a *auditStore) Append(ctx context.Context, event *entity.OrderEvent) error {
	defer a.s.acquire(a.tx)()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	stored := *event
	stored.Payload = slices.Clone(event.Payload)
	a.s.events[event.OrderID] = append(a.s.events[event.OrderID], stored)
	return nil
}

func (a *auditStore) ListByOrder(ctx context.Context, orderID string) ([]entity.OrderEvent, error) {
	defer a.s.acquire(a.tx)()
	events := slices.Clone(a.s.events[orderID])
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}
