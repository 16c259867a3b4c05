package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	tokens := NewTokens("test-secret", "pregao", time.Hour, clock)

	token, err := tokens.Issue("fornecedor-1")
	assert.NoError(t, err)

	userID, err := tokens.Verify(token)
	assert.NoError(t, err)
	check.Equal(t, "fornecedor-1", userID)
}

func TestTokens_Expired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	tokens := NewTokens("test-secret", "pregao", time.Minute, clock)

	token, err := tokens.Issue("fornecedor-1")
	assert.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = tokens.Verify(token)
	check.True(t, errors.Is(err, ErrInvalidToken))
}

func TestTokens_WrongSecretOrIssuer(t *testing.T) {
	token, err := NewTokens("secret-a", "pregao", time.Hour, nil).Issue("u1")
	assert.NoError(t, err)

	_, err = NewTokens("secret-b", "pregao", time.Hour, nil).Verify(token)
	check.True(t, errors.Is(err, ErrInvalidToken))

	_, err = NewTokens("secret-a", "other", time.Hour, nil).Verify(token)
	check.True(t, errors.Is(err, ErrInvalidToken))

	_, err = NewTokens("secret-a", "pregao", time.Hour, nil).Verify("")
	check.True(t, errors.Is(err, ErrInvalidToken))
}

func TestDirectory_RolesAndParticipation(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(map[string]models.Role{
		"pregoeiro": models.RoleAuctioneer,
		"s1":        models.RoleSupplier,
	})
	d.SetRole("obs", models.RoleObserver)

	role, err := d.RoleOf(ctx, "pregoeiro")
	assert.NoError(t, err)
	check.Equal(t, models.RoleAuctioneer, role)

	_, err = d.RoleOf(ctx, "nobody")
	check.True(t, errors.Is(err, ErrUnknownUser))

	lotID := uuid.New()
	ok, err := d.IsParticipant(ctx, lotID, "s1")
	assert.NoError(t, err)
	check.True(t, ok)

	ok, _ = d.IsParticipant(ctx, lotID, "obs")
	check.False(t, ok)

	d.Bar(lotID, "s1")
	ok, _ = d.IsParticipant(ctx, lotID, "s1")
	check.False(t, ok)
	ok, _ = d.IsParticipant(ctx, uuid.New(), "s1")
	check.True(t, ok)
}
