package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/pregao/go/internal/sqlutil"
)

// ErrEventNotFound is returned when an outbox row does not exist.
var ErrEventNotFound = errors.New("outbox event not found")

// Store is the persistence the emitter and the relay need.
type Store interface {
	Insert(ctx context.Context, event OutboxEvent) error
	FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error)
	FetchByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	CountUnsent(ctx context.Context) (int, error)
}

// Repository is the Postgres Store over dispute_outbox.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, e OutboxEvent) error {
	const query = `
		INSERT INTO dispute_outbox (id, session_id, lot_id, event_type, sealed, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID, e.SessionID, sqlutil.NilAsNull(e.LotID), e.EventType, e.Sealed, []byte(e.Payload), e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

const selectColumns = `id, session_id, lot_id, event_type, sealed, payload, occurred_at, created_at, sent_at`

func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := `SELECT ` + selectColumns + `
		FROM dispute_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsent outbox: %w", err)
	}
	return out, nil
}

func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (OutboxEvent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM dispute_outbox WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutboxEvent{}, ErrEventNotFound
	}
	return e, err
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE dispute_outbox SET sent_at = NOW() WHERE id = $1 AND sent_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

func (r *Repository) CountUnsent(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispute_outbox WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsent outbox: %w", err)
	}
	return n, nil
}

func scanEvent(row pgx.Row) (OutboxEvent, error) {
	var (
		e      OutboxEvent
		lotID  uuid.NullUUID
		sentAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.SessionID, &lotID, &e.EventType, &e.Sealed, &e.Payload, &e.OccurredAt, &e.CreatedAt, &sentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OutboxEvent{}, err
		}
		return OutboxEvent{}, fmt.Errorf("scan outbox event: %w", err)
	}
	if lotID.Valid {
		e.LotID = lotID.UUID
	}
	e.SentAt = sqlutil.FromNullTime(sentAt)
	return e, nil
}
