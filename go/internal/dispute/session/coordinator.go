package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists for tender")
	ErrInvalidSession  = errors.New("invalid session")
)

// checkpointEvery is how often, in ticks, a running lot's countdown is
// persisted when nothing else changed.
const checkpointEvery = 10

// Session is one tender's live auction: an ordered set of lots and the mode
// applied to lots when they start.
type Session struct {
	// mu guards mode and serializes mode changes against auctioneer lot commands
	mu        sync.Mutex
	id        uuid.UUID
	tenderID  string
	mode      models.DisputeMode
	lots      []*lot.Lot
	createdAt time.Time
}

// CreateSessionRequest is the input of CreateSession
type CreateSessionRequest struct {
	TenderID string             `json:"tender_id" yaml:"tender_id"`
	Mode     models.DisputeMode `json:"mode" yaml:"mode"`
	Lots     []LotSpec          `json:"lots" yaml:"lots"`
}

// LotSpec describes one lot of a new session. Number defaults to the position
// in the list.
type LotSpec struct {
	Number       int      `json:"number" yaml:"number"`
	Participants []string `json:"participants" yaml:"participants"`
}

// Coordinator owns every live session and routes commands to lots by id. It
// never touches a lot's ledger or timer directly.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byTender map[string]uuid.UUID
	lots     map[uuid.UUID]*lot.Lot
	owners   map[uuid.UUID]*Session

	repo       Repository
	auth       Authorizer
	emitter    events.Emitter
	dispatcher *Dispatcher
	metrics    Metrics
	clock      clockwork.Clock
	lotDeps    lot.Deps
	queueSize  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithPolicy(p lot.Policy) Option {
	return func(c *Coordinator) { c.lotDeps.Policy = p }
}

// WithRand sets the source of random-mode durations.
func WithRand(r lot.RandSource) Option {
	return func(c *Coordinator) { c.lotDeps.Rand = r }
}

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithQueueSize sets the capacity of the side-effect queue.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) { c.queueSize = n }
}

// NewCoordinator creates a coordinator. Call Run to start processing side effects.
func NewCoordinator(repo Repository, auth Authorizer, emitter events.Emitter, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions: make(map[uuid.UUID]*Session),
		byTender: make(map[string]uuid.UUID),
		lots:     make(map[uuid.UUID]*lot.Lot),
		owners:   make(map[uuid.UUID]*Session),
		repo:     repo,
		auth:     auth,
		emitter:  emitter,
		metrics:  NoOpMetrics{},
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lotDeps.Clock = c.clock
	c.lotDeps.OnChange = c.record
	if c.lotDeps.Receipt == nil {
		if gen, err := lot.ReceiptGenerator(); err == nil {
			c.lotDeps.Receipt = gen
		}
	}
	c.dispatcher = NewDispatcher(c.queueSize, c.metrics)
	return c
}

// Run processes side effects until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.dispatcher.Run(ctx)
	return nil
}

// CreateSession opens a dispute room for a tender. All lots start Waiting.
func (c *Coordinator) CreateSession(ctx context.Context, userID string, req CreateSessionRequest) (Summary, error) {
	if _, err := c.requireRole(ctx, userID, models.RoleAuctioneer); err != nil {
		return Summary{}, err
	}
	if err := validateCreateSessionRequest(req); err != nil {
		return Summary{}, fmt.Errorf("validation failed: %w", err)
	}

	now := c.clock.Now()
	s := &Session{
		id:        uuid.New(),
		tenderID:  req.TenderID,
		mode:      req.Mode,
		createdAt: now,
	}
	for i, spec := range req.Lots {
		number := spec.Number
		if number == 0 {
			number = i + 1
		}
		s.lots = append(s.lots, lot.New(lot.Config{
			ID:           uuid.New(),
			SessionID:    s.id,
			Number:       number,
			Participants: spec.Participants,
			Mode:         req.Mode,
		}, c.lotDeps))
	}
	sort.SliceStable(s.lots, func(i, j int) bool { return s.lots[i].Number() < s.lots[j].Number() })

	if err := c.register(s); err != nil {
		return Summary{}, err
	}

	snapshot := s.snapshot()
	c.dispatcher.Submit(Job{Kind: "create_session", Run: func(ctx context.Context) error {
		return c.repo.CreateSession(ctx, snapshot)
	}})

	log.Info().
		Str("session_id", s.id.String()).
		Str("tender_id", s.tenderID).
		Str("mode", string(s.mode)).
		Int("lots", len(s.lots)).
		Msg("created dispute session")
	return s.summary(), nil
}

// Restore rebuilds a session from the repository after a process restart.
// Running lots continue from their last persisted countdown.
func (c *Coordinator) Restore(ctx context.Context, tenderID string) (Summary, error) {
	c.mu.RLock()
	if id, ok := c.byTender[tenderID]; ok {
		s := c.sessions[id]
		c.mu.RUnlock()
		return s.summary(), nil
	}
	c.mu.RUnlock()

	stored, err := c.repo.LoadSession(ctx, tenderID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load session: %w", err)
	}

	bidsByLot := make(map[uuid.UUID][]models.Bid)
	for _, b := range stored.Bids {
		bidsByLot[b.LotID] = append(bidsByLot[b.LotID], b)
	}
	s := &Session{
		id:        stored.ID,
		tenderID:  stored.TenderID,
		mode:      stored.Mode,
		createdAt: stored.CreatedAt,
	}
	for _, state := range stored.Lots {
		s.lots = append(s.lots, lot.Restore(state, bidsByLot[state.ID], c.lotDeps))
	}
	sort.SliceStable(s.lots, func(i, j int) bool { return s.lots[i].Number() < s.lots[j].Number() })

	if err := c.register(s); err != nil {
		return Summary{}, err
	}
	log.Info().
		Str("session_id", s.id.String()).
		Str("tender_id", s.tenderID).
		Int("lots", len(s.lots)).
		Int("bids", len(stored.Bids)).
		Msg("restored dispute session")
	return s.summary(), nil
}

func (c *Coordinator) register(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byTender[s.tenderID]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.tenderID)
	}
	c.sessions[s.id] = s
	c.byTender[s.tenderID] = s.id
	for _, l := range s.lots {
		c.lots[l.ID()] = l
		c.owners[l.ID()] = s
	}
	return nil
}

// ChangeMode sets the mode used by lots that have not started yet. It is
// refused while any lot of the session is running.
func (c *Coordinator) ChangeMode(ctx context.Context, userID string, sessionID uuid.UUID, mode models.DisputeMode) error {
	if _, err := c.requireRole(ctx, userID, models.RoleAuctioneer); err != nil {
		return err
	}
	if !mode.Valid() {
		return &lot.RejectionError{Err: lot.ErrModeNotSupported, Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lots {
		if st := l.Status(); st == models.LotStatusOpen || st == models.LotStatusTiebreak {
			return &lot.RejectionError{
				Err:    lot.ErrInvalidTransition,
				Reason: fmt.Sprintf("lot %d is %s", l.Number(), st),
			}
		}
	}

	from := s.mode
	s.mode = mode
	var waiting []models.LotState
	for _, l := range s.lots {
		if err := l.SetMode(mode); err == nil {
			waiting = append(waiting, l.Snapshot())
		}
	}

	now := c.clock.Now()
	ev := events.New(events.EventTypeModeChanged, s.id, uuid.Nil, now, events.ModeChangedPayload{From: from, To: mode})
	c.dispatcher.Submit(Job{Kind: "update_session_mode", Run: func(ctx context.Context) error {
		if err := c.repo.UpdateSessionMode(ctx, s.id, mode); err != nil {
			return err
		}
		for _, state := range waiting {
			if err := c.repo.SaveLotState(ctx, state); err != nil {
				return err
			}
		}
		return nil
	}})
	c.emit(uuid.Nil, []events.Event{ev})

	log.Info().
		Str("session_id", s.id.String()).
		Str("from", string(from)).
		Str("to", string(mode)).
		Int("waiting_lots", len(waiting)).
		Msg("changed dispute mode")
	return nil
}

// StartLot opens one waiting lot.
func (c *Coordinator) StartLot(ctx context.Context, userID string, lotID uuid.UUID) error {
	start := c.clock.Now()
	if _, err := c.requireRole(ctx, userID, models.RoleAuctioneer); err != nil {
		return err
	}
	l, s, err := c.lot(lotID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, err = l.Start()
	s.mu.Unlock()
	c.observe("start_lot", start, err)
	if err != nil {
		return err
	}

	log.Info().
		Str("session_id", s.id.String()).
		Str("lot_id", lotID.String()).
		Int("lot_number", l.Number()).
		Str("mode", string(l.Mode())).
		Msg("lot opened")
	return nil
}

// StartAllWaiting opens every waiting lot of a session and returns how many
// were started.
func (c *Coordinator) StartAllWaiting(ctx context.Context, userID string, sessionID uuid.UUID) (int, error) {
	if _, err := c.requireRole(ctx, userID, models.RoleAuctioneer); err != nil {
		return 0, err
	}
	s, err := c.session(sessionID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	started := 0
	for _, l := range s.lots {
		if l.Status() != models.LotStatusWaiting {
			continue
		}
		if _, err := l.Start(); err != nil {
			// lost a race with another start, nothing to do
			continue
		}
		started++
	}

	log.Info().
		Str("session_id", s.id.String()).
		Int("started", started).
		Msg("started waiting lots")
	return started, nil
}

func (c *Coordinator) session(id uuid.UUID) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (c *Coordinator) lot(id uuid.UUID) (*lot.Lot, *Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lots[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", lot.ErrLotNotFound, id)
	}
	return l, c.owners[id], nil
}

// requireRole resolves the caller's role and checks it against allowed. With
// no allowed roles any known user passes.
func (c *Coordinator) requireRole(ctx context.Context, userID string, allowed ...models.Role) (models.Role, error) {
	if userID == "" {
		return "", &lot.RejectionError{Err: lot.ErrForbidden, Reason: "unauthenticated"}
	}
	role, err := c.auth.RoleOf(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to resolve role")
		return "", &lot.RejectionError{Err: lot.ErrForbidden, Reason: "unknown user"}
	}
	if len(allowed) == 0 {
		return role, nil
	}
	for _, r := range allowed {
		if role == r {
			return role, nil
		}
	}
	return role, &lot.RejectionError{Err: lot.ErrForbidden, Reason: fmt.Sprintf("%s may not perform this command", role)}
}

func validateCreateSessionRequest(req CreateSessionRequest) error {
	if req.TenderID == "" {
		return fmt.Errorf("%w: tender_id is required", ErrInvalidSession)
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSession, req.Mode)
	}
	if len(req.Lots) == 0 {
		return fmt.Errorf("%w: at least one lot is required", ErrInvalidSession)
	}
	seen := make(map[int]struct{})
	for i, spec := range req.Lots {
		number := spec.Number
		if number == 0 {
			number = i + 1
		}
		if number < 0 {
			return fmt.Errorf("%w: lot number must be positive", ErrInvalidSession)
		}
		if _, dup := seen[number]; dup {
			return fmt.Errorf("%w: duplicate lot number %d", ErrInvalidSession, number)
		}
		seen[number] = struct{}{}
		if len(spec.Participants) == 0 {
			return fmt.Errorf("%w: lot %d has no participants", ErrInvalidSession, number)
		}
	}
	return nil
}

func (s *Session) snapshot() models.DisputeSession {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	out := models.DisputeSession{
		ID:        s.id,
		TenderID:  s.tenderID,
		Mode:      mode,
		CreatedAt: s.createdAt,
	}
	for _, l := range s.lots {
		out.Lots = append(out.Lots, l.Snapshot())
	}
	return out
}
