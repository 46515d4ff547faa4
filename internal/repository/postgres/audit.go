package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/repository"
)

type auditStore struct {
	db dbtx
}

// NewAuditStore creates an AuditRepository backed by Postgres.
func NewAuditStore(db *sql.DB) repository.AuditRepository {
	return &auditStore{db: db}
}

func (s *auditStore) Append(ctx context.Context, event *entity.OrderEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO order_events (id, order_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)",
		event.ID, event.OrderID, event.Type, []byte(payload), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order event %s: %w", event.Type, err)
	}
	return nil
}

func (s *auditStore) ListByOrder(ctx context.Context, orderID string) ([]entity.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, order_id, event_type, payload, created_at FROM order_events WHERE order_id = $1 ORDER BY created_at ASC, id ASC",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var events []entity.OrderEvent
	for rows.Next() {
		var e entity.OrderEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
