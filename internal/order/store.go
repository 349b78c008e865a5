// README: Order store backed by PostgreSQL with optimistic status CAS.
package order

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"savora/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

var _ Storage = (*PGStore)(nil)

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, customer_id, chef_id, driver_id, status, status_version,
		       pickup_lat, pickup_lng, delivery_lat, delivery_lng,
		       created_at, updated_at
		FROM orders
		WHERE id = $1`, string(id),
	)

	var o Order
	var driverID sql.NullString
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.ChefID, &driverID, &o.Status, &o.StatusVersion,
		&o.PickupLocation.Lat, &o.PickupLocation.Lng,
		&o.DeliveryLocation.Lat, &o.DeliveryLocation.Lng,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		d := types.ID(driverID.String)
		o.DriverID = &d
	}
	return &o, nil
}

// UpdateStatus applies the transition only when the row still carries the
// expected (status, version) pair. The driver id is set once and preserved
// afterwards via COALESCE.
func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error) {
	var d *string
	if driverID != nil {
		v := string(*driverID)
		d = &v
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    driver_id = COALESCE($2, driver_id),
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to),
		d,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AppendEvent records the transition in the order_status_events audit table.
// Best effort from this core's perspective; the order service owns the log.
func (s *PGStore) AppendEvent(ctx context.Context, e *StatusEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_status_events (
			order_id, from_status, to_status, actor_id, occurred_at
		) VALUES ($1, $2, $3, $4, $5)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorID),
		e.OccurredAt,
	)
	return err
}
