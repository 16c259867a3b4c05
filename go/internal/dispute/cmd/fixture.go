package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/models"
)

// tenderFixture seeds a room: the users allowed in it and the session itself.
//
//	auctioneer: pregoeiro
//	users:
//	  pregoeiro: AUCTIONEER
//	  fornecedor-a: SUPPLIER
//	session:
//	  tender_id: PE-12/2026
//	  mode: open
//	  lots:
//	    - participants: [fornecedor-a]
type tenderFixture struct {
	Auctioneer string                       `yaml:"auctioneer"`
	Users      map[string]models.Role       `yaml:"users"`
	Session    session.CreateSessionRequest `yaml:"session"`
}

type roleStore interface {
	SetRole(ctx context.Context, userID string, role models.Role) error
}

func readFixture(path string) (tenderFixture, error) {
	var f tenderFixture
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse fixture: %w", err)
	}
	if f.Auctioneer == "" || f.Session.TenderID == "" {
		return f, errors.New("fixture needs auctioneer and session.tender_id")
	}
	return f, nil
}

// loadFixture registers the fixture's users and creates its session unless
// the tender was already restored.
func loadFixture(ctx context.Context, path string, roles roleStore, coordinator *session.Coordinator) error {
	f, err := readFixture(path)
	if err != nil {
		return err
	}
	for userID, role := range f.Users {
		if err := roles.SetRole(ctx, userID, role); err != nil {
			return fmt.Errorf("set role of %s: %w", userID, err)
		}
	}

	summary, err := coordinator.CreateSession(ctx, f.Auctioneer, f.Session)
	if errors.Is(err, session.ErrSessionExists) {
		log.Info().Str("tender_id", f.Session.TenderID).Msg("tender already loaded")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().
		Str("session_id", summary.SessionID.String()).
		Str("tender_id", summary.TenderID).
		Int("lots", summary.Total).
		Msg("tender fixture loaded")
	return nil
}
