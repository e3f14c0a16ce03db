package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Postgres keeps snapshots in the cart_snapshots table, one row per cart
// key. Suited to deployments where carts should survive the session store.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

type snapshotRow struct {
	CartKey   string    `db:"cart_key"`
	Data      []byte    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (p *Postgres) Write(ctx context.Context, key string, data []byte) error {
	const q = `
	INSERT INTO cart_snapshots (cart_key, data, updated_at)
	VALUES (:cart_key, :data, :updated_at)
	ON CONFLICT (cart_key)
	DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	row := snapshotRow{CartKey: key, Data: data, UpdatedAt: time.Now().UTC()}
	if _, err := p.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) Read(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT cart_key, data, updated_at FROM cart_snapshots WHERE cart_key = $1`

	var row snapshotRow
	err := p.db.GetContext(ctx, &row, q, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting snapshot: %w", err)
	}
	return row.Data, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM cart_snapshots WHERE cart_key = $1`

	if _, err := p.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}
