package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/models"
)

// Repository defines what the coordinator needs from durable storage. All
// writes are best-effort side effects performed off the command path.
type Repository interface {
	LoadSession(ctx context.Context, tenderID string) (*models.DisputeSession, error)
	CreateSession(ctx context.Context, session models.DisputeSession) error
	UpdateSessionMode(ctx context.Context, sessionID uuid.UUID, mode models.DisputeMode) error
	SaveLotState(ctx context.Context, state models.LotState) error
	AppendBid(ctx context.Context, bid models.Bid) error
	MarkBidCancelled(ctx context.Context, bidID uuid.UUID, at time.Time) error
}

// Authorizer resolves who a user is in the dispute room.
type Authorizer interface {
	RoleOf(ctx context.Context, userID string) (models.Role, error)
	IsParticipant(ctx context.Context, lotID uuid.UUID, supplierID string) (bool, error)
}

// Metrics records engine activity.
type Metrics interface {
	CommandHandled(command string, outcome string, duration time.Duration)
	BidAccepted(mode models.DisputeMode)
	LotFinalized(mode models.DisputeMode, withWinner bool)
	TiebreakStarted()
	SideEffectFailed(kind string)
	DispatchDropped()
	DispatchQueueDepth(depth int)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) CommandHandled(string, string, time.Duration) {}
func (NoOpMetrics) BidAccepted(models.DisputeMode)               {}
func (NoOpMetrics) LotFinalized(models.DisputeMode, bool)        {}
func (NoOpMetrics) TiebreakStarted()                             {}
func (NoOpMetrics) SideEffectFailed(string)                      {}
func (NoOpMetrics) DispatchDropped()                             {}
func (NoOpMetrics) DispatchQueueDepth(int)                       {}
