package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/mcdev12/pregao/go/internal/models"
)

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tender.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadFixture(t *testing.T) {
	path := writeFixture(t, `
auctioneer: pregoeiro
users:
  pregoeiro: AUCTIONEER
  fornecedor-a: SUPPLIER
  fornecedor-b: SUPPLIER
session:
  tender_id: PE-12/2026
  mode: closed_open
  lots:
    - participants: [fornecedor-a, fornecedor-b]
    - number: 7
      participants: [fornecedor-b]
`)
	f, err := readFixture(path)
	assert.NoError(t, err)
	check.Equal(t, "pregoeiro", f.Auctioneer)
	check.Equal(t, models.RoleSupplier, f.Users["fornecedor-a"])
	check.Equal(t, models.DisputeModeClosedOpen, f.Session.Mode)
	assert.Equal(t, 2, len(f.Session.Lots))
	check.Equal(t, []string{"fornecedor-a", "fornecedor-b"}, f.Session.Lots[0].Participants)
	check.Equal(t, 7, f.Session.Lots[1].Number)
}

func TestReadFixture_Invalid(t *testing.T) {
	_, err := readFixture(writeFixture(t, "session:\n  tender_id: PE-1\n"))
	check.Error(t, err)

	_, err = readFixture(writeFixture(t, "auctioneer: [unclosed"))
	check.Error(t, err)

	_, err = readFixture(filepath.Join(t.TempDir(), "missing.yaml"))
	check.Error(t, err)
}
