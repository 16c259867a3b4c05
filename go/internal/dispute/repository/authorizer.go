package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/identity"
	"github.com/mcdev12/pregao/go/internal/models"
)

// Authorizer resolves roles from dispute_users and supplier eligibility from
// lot_participants.
type Authorizer struct {
	pool *pgxpool.Pool
}

var _ session.Authorizer = (*Authorizer)(nil)

func NewAuthorizer(pool *pgxpool.Pool) *Authorizer {
	return &Authorizer{pool: pool}
}

func (a *Authorizer) RoleOf(ctx context.Context, userID string) (models.Role, error) {
	var role string
	err := a.pool.QueryRow(ctx, `SELECT role FROM dispute_users WHERE user_id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", identity.ErrUnknownUser, userID)
		}
		return "", fmt.Errorf("repository: role of %s: %w", userID, err)
	}
	return models.Role(role), nil
}

// IsParticipant reports whether a supplier may bid on the lot: the user must
// hold the supplier role and must not be disqualified from that lot.
func (a *Authorizer) IsParticipant(ctx context.Context, lotID uuid.UUID, supplierID string) (bool, error) {
	const query = `
		SELECT u.role, COALESCE(p.disqualified, FALSE)
		FROM dispute_users u
		LEFT JOIN lot_participants p ON p.supplier_id = u.user_id AND p.lot_id = $1
		WHERE u.user_id = $2
	`
	var (
		role         string
		disqualified bool
	)
	err := a.pool.QueryRow(ctx, query, lotID, supplierID).Scan(&role, &disqualified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("repository: participant check: %w", err)
	}
	return models.Role(role) == models.RoleSupplier && !disqualified, nil
}

// SetRole inserts or updates a user's role.
func (a *Authorizer) SetRole(ctx context.Context, userID string, role models.Role) error {
	const query = `
		INSERT INTO dispute_users (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := a.pool.Exec(ctx, query, userID, string(role)); err != nil {
		return fmt.Errorf("repository: set role of %s: %w", userID, err)
	}
	return nil
}

// Disqualify bars a supplier from bidding on a lot.
func (a *Authorizer) Disqualify(ctx context.Context, lotID uuid.UUID, supplierID string) error {
	const query = `
		INSERT INTO lot_participants (lot_id, supplier_id, disqualified) VALUES ($1, $2, TRUE)
		ON CONFLICT (lot_id, supplier_id) DO UPDATE SET disqualified = TRUE
	`
	if _, err := a.pool.Exec(ctx, query, lotID, supplierID); err != nil {
		return fmt.Errorf("repository: disqualify %s: %w", supplierID, err)
	}
	return nil
}
