package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/mcdev12/pregao/go/internal/sqlutil"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists dispute sessions, lots and bids in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

var _ session.Repository = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateSession(ctx context.Context, s models.DisputeSession) error {
	return sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		const insertSession = `
			INSERT INTO dispute_sessions (id, tender_id, mode, created_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, insertSession, s.ID, s.TenderID, string(s.Mode), s.CreatedAt); err != nil {
			return fmt.Errorf("repository: insert session: %w", err)
		}

		const insertParticipant = `
			INSERT INTO lot_participants (lot_id, supplier_id)
			VALUES ($1, $2)
			ON CONFLICT (lot_id, supplier_id) DO NOTHING
		`
		for _, state := range s.Lots {
			if err := saveLot(ctx, tx, state); err != nil {
				return err
			}
			for _, supplier := range state.Participants {
				if _, err := tx.Exec(ctx, insertParticipant, state.ID, supplier); err != nil {
					return fmt.Errorf("repository: insert participant: %w", err)
				}
			}
		}
		return nil
	})
}

func (r *Repository) UpdateSessionMode(ctx context.Context, sessionID uuid.UUID, mode models.DisputeMode) error {
	tag, err := r.pool.Exec(ctx, `UPDATE dispute_sessions SET mode = $2 WHERE id = $1`, sessionID, string(mode))
	if err != nil {
		return fmt.Errorf("repository: update mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) SaveLotState(ctx context.Context, state models.LotState) error {
	return saveLot(ctx, r.pool, state)
}

func saveLot(ctx context.Context, q querier, state models.LotState) error {
	var tiebreak []byte
	if state.Tiebreak != nil {
		var err error
		if tiebreak, err = json.Marshal(state.Tiebreak); err != nil {
			return fmt.Errorf("repository: marshal tiebreak: %w", err)
		}
	}

	const query = `
		INSERT INTO dispute_lots (
			id, session_id, number, participants, status, mode,
			timer_phase, timer_remaining, timer_running, round, shortlist, tiebreak,
			winner_bid_id, winning_value, hidden_duration_sec, opened_at, finished_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::text::numeric, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			participants = EXCLUDED.participants,
			status = EXCLUDED.status,
			mode = EXCLUDED.mode,
			timer_phase = EXCLUDED.timer_phase,
			timer_remaining = EXCLUDED.timer_remaining,
			timer_running = EXCLUDED.timer_running,
			round = EXCLUDED.round,
			shortlist = EXCLUDED.shortlist,
			tiebreak = EXCLUDED.tiebreak,
			winner_bid_id = EXCLUDED.winner_bid_id,
			winning_value = EXCLUDED.winning_value,
			hidden_duration_sec = EXCLUDED.hidden_duration_sec,
			opened_at = EXCLUDED.opened_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE dispute_lots.version <= EXCLUDED.version
	`
	participants := state.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := q.Exec(ctx, query,
		state.ID,
		state.SessionID,
		state.Number,
		participants,
		string(state.Status),
		string(state.Timer.Mode),
		string(state.Timer.Phase),
		state.Timer.RemainingSeconds,
		state.Timer.Running,
		state.Round,
		state.Shortlist,
		tiebreak,
		sqlutil.ToNullUUID(state.WinnerBidID),
		nullDecimalText(state.WinningValue),
		sqlutil.ToNullInt32(state.HiddenDurationSec),
		sqlutil.ToNullTime(state.OpenedAt),
		sqlutil.ToNullTime(state.FinishedAt),
		state.UpdatedAt,
		state.Version,
	)
	if err != nil {
		return fmt.Errorf("repository: save lot %s: %w", state.ID, err)
	}
	return nil
}

func (r *Repository) AppendBid(ctx context.Context, bid models.Bid) error {
	const query = `
		INSERT INTO dispute_bids (
			id, lot_id, supplier_id, value, submitted_at, cancellable_until,
			status, round, sealed, receipt, cancelled_at
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		bid.ID,
		bid.LotID,
		bid.SupplierID,
		bid.Value.String(),
		bid.SubmittedAt,
		bid.CancellableUntil,
		string(bid.Status),
		bid.Round,
		bid.Sealed,
		bid.Receipt,
		sqlutil.ToNullTime(bid.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("repository: append bid %s: %w", bid.ID, err)
	}
	return nil
}

func (r *Repository) MarkBidCancelled(ctx context.Context, bidID uuid.UUID, at time.Time) error {
	const query = `
		UPDATE dispute_bids SET status = $2, cancelled_at = $3
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, bidID, string(models.BidStatusCancelled), at)
	if err != nil {
		return fmt.Errorf("repository: cancel bid %s: %w", bidID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: cancel bid %s: not found", bidID)
	}
	return nil
}

// LoadSession reads a tender's session with every lot and bid.
func (r *Repository) LoadSession(ctx context.Context, tenderID string) (*models.DisputeSession, error) {
	var (
		s    models.DisputeSession
		mode string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, tender_id, mode, created_at FROM dispute_sessions WHERE tender_id = $1`,
		tenderID,
	).Scan(&s.ID, &s.TenderID, &mode, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("repository: load session: %w", err)
	}
	s.Mode = models.DisputeMode(mode)
	s.CreatedAt = s.CreatedAt.UTC()

	if s.Lots, err = r.loadLots(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Bids, err = r.loadBids(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListTenders returns the tender ids of every stored session, oldest first.
func (r *Repository) ListTenders(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT tender_id FROM dispute_sessions ORDER BY created_at, tender_id`)
	if err != nil {
		return nil, fmt.Errorf("repository: list tenders: %w", err)
	}
	tenders, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("repository: list tenders: %w", err)
	}
	return tenders, nil
}

func (r *Repository) loadLots(ctx context.Context, sessionID uuid.UUID) ([]models.LotState, error) {
	const query = `
		SELECT id, session_id, number, participants, status, mode,
			timer_phase, timer_remaining, timer_running, round, shortlist, tiebreak,
			winner_bid_id, winning_value::text, hidden_duration_sec, opened_at, finished_at, updated_at, version
		FROM dispute_lots
		WHERE session_id = $1
		ORDER BY number
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: list lots: %w", err)
	}
	defer rows.Close()

	out := make([]models.LotState, 0, 8)
	for rows.Next() {
		var (
			st                   models.LotState
			status, mode, phase  string
			tiebreak             []byte
			winner               uuid.NullUUID
			winningValue         sql.NullString
			hidden               sql.NullInt32
			openedAt, finishedAt sql.NullTime
		)
		err := rows.Scan(
			&st.ID, &st.SessionID, &st.Number, &st.Participants, &status, &mode,
			&phase, &st.Timer.RemainingSeconds, &st.Timer.Running, &st.Round, &st.Shortlist, &tiebreak,
			&winner, &winningValue, &hidden, &openedAt, &finishedAt, &st.UpdatedAt, &st.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: scan lot: %w", err)
		}
		st.Status = models.LotStatus(status)
		st.Timer.Mode = models.DisputeMode(mode)
		st.Timer.Phase = models.TimerPhase(phase)
		st.WinnerBidID = sqlutil.FromNullUUID(winner)
		st.HiddenDurationSec = sqlutil.FromNullInt32(hidden)
		st.OpenedAt = sqlutil.FromNullTime(openedAt)
		st.FinishedAt = sqlutil.FromNullTime(finishedAt)
		st.UpdatedAt = st.UpdatedAt.UTC()
		if st.WinningValue, err = parseNullDecimal(winningValue); err != nil {
			return nil, err
		}
		if len(tiebreak) > 0 {
			st.Tiebreak = &models.TiebreakState{}
			if err := json.Unmarshal(tiebreak, st.Tiebreak); err != nil {
				return nil, fmt.Errorf("repository: decode tiebreak of lot %s: %w", st.ID, err)
			}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate lots: %w", err)
	}
	return out, nil
}

func (r *Repository) loadBids(ctx context.Context, sessionID uuid.UUID) ([]models.Bid, error) {
	const query = `
		SELECT b.id, b.lot_id, b.supplier_id, b.value::text, b.submitted_at, b.cancellable_until,
			b.status, b.round, b.sealed, b.receipt, b.cancelled_at
		FROM dispute_bids b
		JOIN dispute_lots l ON l.id = b.lot_id
		WHERE l.session_id = $1
		ORDER BY b.submitted_at, b.id
	`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: list bids: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bid, 0, 32)
	for rows.Next() {
		var (
			b           models.Bid
			value       string
			status      string
			cancelledAt sql.NullTime
		)
		err := rows.Scan(&b.ID, &b.LotID, &b.SupplierID, &value, &b.SubmittedAt, &b.CancellableUntil,
			&status, &b.Round, &b.Sealed, &b.Receipt, &cancelledAt)
		if err != nil {
			return nil, fmt.Errorf("repository: scan bid: %w", err)
		}
		if b.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("repository: bid %s value: %w", b.ID, err)
		}
		b.Status = models.BidStatus(status)
		b.SubmittedAt = b.SubmittedAt.UTC()
		b.CancellableUntil = b.CancellableUntil.UTC()
		b.CancelledAt = sqlutil.FromNullTime(cancelledAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate bids: %w", err)
	}
	return out, nil
}

func nullDecimalText(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("repository: parse decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}
