package lot

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"
)

// Policy holds the durations and limits shared by every lot of a session.
type Policy struct {
	InitialSeconds   int
	ExtensionSeconds int
	TiebreakSeconds  int
	RandomMaxSeconds int
	CancelWindow     time.Duration
	ShortlistSize    int
	// FinalOfferMargin is the fraction above the leader within which a supplier
	// may still send a sealed final offer in open_closed mode.
	FinalOfferMargin decimal.Decimal
}

// DefaultPolicy returns the standard pregão durations.
func DefaultPolicy() Policy {
	return Policy{
		InitialSeconds:   600,
		ExtensionSeconds: 120,
		TiebreakSeconds:  60,
		RandomMaxSeconds: 1800,
		CancelWindow:     10 * time.Second,
		ShortlistSize:    3,
		FinalOfferMargin: decimal.NewFromFloat(0.10),
	}
}

// RandSource draws the hidden duration of random-mode lots. Intn returns a
// value in [0, n).
type RandSource interface {
	Intn(n int) int
}

type cryptoRandSource struct{}

func (cryptoRandSource) Intn(n int) int {
	// rand.Int does not fail on rand.Reader
	v, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(v.Int64())
}

// CryptoRand returns a RandSource backed by crypto/rand.
func CryptoRand() RandSource {
	return cryptoRandSource{}
}

// SeededRand returns a deterministic RandSource for tests and replays.
func SeededRand(seed int64) RandSource {
	return mrand.New(mrand.NewSource(seed))
}

// ReceiptGenerator returns short receipt codes handed to suppliers when a bid
// is accepted.
func ReceiptGenerator() (func() string, error) {
	return nanoid.Standard(12)
}
