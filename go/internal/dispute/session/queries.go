package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/models"
)

// Summary aggregates lot counts for a session. The counters are read lot by
// lot and are not a consistent cut across lots.
type Summary struct {
	SessionID uuid.UUID          `json:"session_id"`
	TenderID  string             `json:"tender_id"`
	Mode      models.DisputeMode `json:"mode"`
	Total     int                `json:"total"`
	Waiting   int                `json:"waiting"`
	Open      int                `json:"open"`
	Tiebreak  int                `json:"tiebreak"`
	Finished  int                `json:"finished"`
	Lots      []LotSummary       `json:"lots"`
	CreatedAt time.Time          `json:"created_at"`
}

type LotSummary struct {
	ID     uuid.UUID        `json:"id"`
	Number int              `json:"number"`
	Status models.LotStatus `json:"status"`
}

func (s *Session) summary() Summary {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	out := Summary{
		SessionID: s.id,
		TenderID:  s.tenderID,
		Mode:      mode,
		Total:     len(s.lots),
		CreatedAt: s.createdAt,
		Lots:      make([]LotSummary, 0, len(s.lots)),
	}
	for _, l := range s.lots {
		st := l.Status()
		switch st {
		case models.LotStatusWaiting:
			out.Waiting++
		case models.LotStatusOpen:
			out.Open++
		case models.LotStatusTiebreak:
			out.Tiebreak++
		case models.LotStatusFinished:
			out.Finished++
		}
		out.Lots = append(out.Lots, LotSummary{ID: l.ID(), Number: l.Number(), Status: st})
	}
	return out
}

// GetSessionSummary returns lot counts per status.
func (c *Coordinator) GetSessionSummary(ctx context.Context, userID string, sessionID uuid.UUID) (Summary, error) {
	if _, err := c.requireRole(ctx, userID); err != nil {
		return Summary{}, err
	}
	s, err := c.session(sessionID)
	if err != nil {
		return Summary{}, err
	}
	return s.summary(), nil
}

// GetLotStatus returns the lot as the caller is allowed to see it.
func (c *Coordinator) GetLotStatus(ctx context.Context, userID string, lotID uuid.UUID) (lot.View, error) {
	viewer, l, err := c.viewer(ctx, userID, lotID)
	if err != nil {
		return lot.View{}, err
	}
	return l.View(viewer), nil
}

// GetRanking returns the live ranking as the caller is allowed to see it.
func (c *Coordinator) GetRanking(ctx context.Context, userID string, lotID uuid.UUID) ([]lot.RankedBid, error) {
	viewer, l, err := c.viewer(ctx, userID, lotID)
	if err != nil {
		return nil, err
	}
	return l.Ranking(viewer), nil
}

// GetHistory returns every bid ever placed on a lot. Auctioneer only.
func (c *Coordinator) GetHistory(ctx context.Context, userID string, lotID uuid.UUID) ([]models.Bid, error) {
	if _, err := c.requireRole(ctx, userID, models.RoleAuctioneer); err != nil {
		return nil, err
	}
	l, _, err := c.lot(lotID)
	if err != nil {
		return nil, err
	}
	return l.History(), nil
}

// Viewer resolves the caller's role for redacting session data.
func (c *Coordinator) Viewer(ctx context.Context, userID string) (lot.Viewer, error) {
	role, err := c.requireRole(ctx, userID)
	if err != nil {
		return lot.Viewer{}, err
	}
	return lot.Viewer{UserID: userID, Role: role}, nil
}

// SessionExists reports whether a session is live in this coordinator.
func (c *Coordinator) SessionExists(sessionID uuid.UUID) bool {
	_, err := c.session(sessionID)
	return err == nil
}

func (c *Coordinator) viewer(ctx context.Context, userID string, lotID uuid.UUID) (lot.Viewer, *lot.Lot, error) {
	v, err := c.Viewer(ctx, userID)
	if err != nil {
		return lot.Viewer{}, nil, err
	}
	l, _, err := c.lot(lotID)
	if err != nil {
		return lot.Viewer{}, nil, err
	}
	return v, l, nil
}
