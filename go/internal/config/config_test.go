package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestLoad_FromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pregao.yaml")
	yaml := `
env: test
auth:
  jwt_secret: from-file
dispute:
  initial_duration: 5m
  final_offer_margin: "0.05"
broker:
  kind: kafka
`
	assert.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv(PathEnv, path)
	t.Setenv("DISPUTE_SHORTLIST_SIZE", "5")

	cfg, err := Load()
	assert.NoError(t, err)
	check.Equal(t, "test", cfg.Env)
	check.Equal(t, "from-file", cfg.Auth.JWTSecret)
	check.Equal(t, "kafka", cfg.Broker.Kind)
	check.Equal(t, 5*time.Minute, cfg.Dispute.InitialDuration)
	check.Equal(t, 5, cfg.Dispute.ShortlistSize)
	check.Equal(t, "dispute_outbox_events", cfg.Outbox.NotifyChannel)

	p, err := cfg.Dispute.Policy()
	assert.NoError(t, err)
	check.Equal(t, 300, p.InitialSeconds)
	check.Equal(t, 120, p.ExtensionSeconds)
	check.True(t, p.FinalOfferMargin.Equal(decimal.RequireFromString("0.05")))
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s")
	t.Setenv("BROKER_KIND", "carrier-pigeon")
	_, err := Load()
	check.Error(t, err)

	t.Setenv("BROKER_KIND", "nats")
	t.Setenv("DISPUTE_FINAL_OFFER_MARGIN", "abc")
	_, err = Load()
	check.Error(t, err)
}

func TestDisputePolicy_SubSecondDurations(t *testing.T) {
	d := Dispute{
		InitialDuration:   500 * time.Millisecond,
		ExtensionDuration: time.Minute,
		TiebreakDuration:  time.Minute,
		RandomMaxDuration: time.Minute,
		ShortlistSize:     3,
		FinalOfferMargin:  "0.1",
	}
	_, err := d.Policy()
	check.Error(t, err)
}
