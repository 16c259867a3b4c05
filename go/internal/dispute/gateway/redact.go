package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/models"
)

// SnapshotMessageType is sent once, right after a client connects.
const SnapshotMessageType = "SessionSnapshot"

// Message is the frame pushed to WebSocket clients.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	SessionID  uuid.UUID `json:"session_id"`
	LotID      uuid.UUID `json:"lot_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Redact shapes an engine event for a single viewer. It reports false when
// the viewer must not receive the event at all.
//
// Sealed events reach the auctioneer and their submitter only. Other viewers
// never learn another supplier's identity, and the drawn random duration is
// never pushed to anyone.
func Redact(ev events.Event, viewer lot.Viewer) (Message, bool) {
	msg := Message{
		ID:         ev.ID,
		Type:       string(ev.Type),
		SessionID:  ev.SessionID,
		LotID:      ev.LotID,
		OccurredAt: ev.OccurredAt,
		Payload:    ev.Payload,
	}

	if viewer.Role == models.RoleAuctioneer {
		if p, ok := ev.Payload.(events.LotFinalizedPayload); ok {
			p.HiddenDurationSec = nil
			msg.Payload = p
		}
		return msg, true
	}

	switch p := ev.Payload.(type) {
	case events.BidAcceptedPayload:
		if ev.Sealed && p.SupplierID != viewer.UserID {
			return Message{}, false
		}
		p.SupplierID = disclose(viewer, p.SupplierID)
		msg.Payload = p
	case events.BidCancelledPayload:
		if ev.Sealed && p.SupplierID != viewer.UserID {
			return Message{}, false
		}
		p.SupplierID = disclose(viewer, p.SupplierID)
		p.LeaderID = disclose(viewer, p.LeaderID)
		msg.Payload = p
	case events.PhaseChangedPayload:
		p.Eligible = onlyOwn(viewer, p.Eligible)
		msg.Payload = p
	case events.TiebreakStartedPayload:
		p.TiedSuppliers = onlyOwn(viewer, p.TiedSuppliers)
		msg.Payload = p
	case events.TiebreakResolvedPayload:
		p.WinnerID = disclose(viewer, p.WinnerID)
		msg.Payload = p
	case events.LotFinalizedPayload:
		p.WinnerID = disclose(viewer, p.WinnerID)
		p.HiddenDurationSec = nil
		msg.Payload = p
	case events.EnvelopesOpenedPayload:
		p.Shortlist = onlyOwn(viewer, p.Shortlist)
		msg.Payload = p
	default:
		if ev.Sealed {
			return Message{}, false
		}
	}
	return msg, true
}

func disclose(viewer lot.Viewer, supplierID string) string {
	if supplierID == viewer.UserID {
		return supplierID
	}
	return ""
}

// onlyOwn returns a fresh slice holding the viewer's id if present.
func onlyOwn(viewer lot.Viewer, ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if id == viewer.UserID {
			out = append(out, id)
		}
	}
	return out
}
