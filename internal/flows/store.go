package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Flow types.
const (
	TypeImageChoice = "image_model_choice"
)

// Terminal outcomes.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// ErrNoActiveFlow is returned when no pending, unexpired flow exists for
// the key.
var ErrNoActiveFlow = errors.New("flows: no active flow")

// StateData is the payload persisted with an image-choice flow.
type StateData struct {
	ImageURL  string `json:"image_url"`
	ImagePath string `json:"image_path"`
	Caption   string `json:"caption,omitempty"`
	MessageID string `json:"message_id"`
}

type Flow struct {
	ID        string
	UserID    string
	ChannelID string
	Type      string
	Status    string
	State     StateData
	ExpiresAt time.Time
	CreatedAt time.Time
}

// DBTX is the subset of pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists pending flows. At most one pending flow exists per
// (user, channel, type): Create force-expires any previous one, and
// concurrent creates for the same key are serialized in-process.
type Store struct {
	db     DBTX
	logger *slog.Logger
	ttl    time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewStore(logger *slog.Logger, db DBTX, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{
		db:     db,
		logger: logger.With(slog.String("service", "flows")),
		ttl:    ttl,
		locks:  make(map[string]*keyLock),
	}
}

func flowKey(userID, channelID, flowType string) string {
	return userID + "\x00" + channelID + "\x00" + flowType
}

// lockKey serializes writers on one flow key. Each call runs in turn with
// its own arguments; the entry is dropped once the last holder releases it.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Create opens a new pending flow, expiring any previous pending flow for
// the same key first.
func (s *Store) Create(ctx context.Context, userID, channelID, flowType string, state StateData) (Flow, error) {
	unlock := s.lockKey(flowKey(userID, channelID, flowType))
	defer unlock()
	return s.create(ctx, userID, channelID, flowType, state)
}

func (s *Store) create(ctx context.Context, userID, channelID, flowType string, state StateData) (Flow, error) {
	if _, err := s.db.Exec(ctx, `
		UPDATE pending_flows
		SET status = $4, updated_at = now()
		WHERE user_id = $1 AND channel_id = $2 AND flow_type = $3 AND status = $5`,
		userID, channelID, flowType, StatusExpired, StatusPending); err != nil {
		return Flow{}, fmt.Errorf("expire previous flow: %w", err)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return Flow{}, fmt.Errorf("encode flow state: %w", err)
	}

	flow := Flow{
		UserID:    userID,
		ChannelID: channelID,
		Type:      flowType,
		Status:    StatusPending,
		State:     state,
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO pending_flows (user_id, channel_id, flow_type, state_data, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, expires_at, created_at`,
		userID, channelID, flowType, raw, time.Now().Add(s.ttl)).
		Scan(&flow.ID, &flow.ExpiresAt, &flow.CreatedAt)
	if err != nil {
		return Flow{}, fmt.Errorf("create flow: %w", err)
	}

	s.logger.Debug("flow created",
		slog.String("flow_id", flow.ID),
		slog.String("type", flowType),
		slog.String("user_id", userID))
	return flow, nil
}

// GetActive returns the pending, unexpired flow for the key, if any.
func (s *Store) GetActive(ctx context.Context, userID, channelID, flowType string) (Flow, error) {
	flow := Flow{UserID: userID, ChannelID: channelID, Type: flowType, Status: StatusPending}
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT id::text, state_data, expires_at, created_at
		FROM pending_flows
		WHERE user_id = $1 AND channel_id = $2 AND flow_type = $3
		  AND status = $4 AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, channelID, flowType, StatusPending).
		Scan(&flow.ID, &raw, &flow.ExpiresAt, &flow.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Flow{}, ErrNoActiveFlow
		}
		return Flow{}, fmt.Errorf("get active flow: %w", err)
	}
	if err := json.Unmarshal(raw, &flow.State); err != nil {
		return Flow{}, fmt.Errorf("decode flow state: %w", err)
	}
	return flow, nil
}

// Resolve moves a flow out of pending and reports whether this call won
// the transition. A flow already settled by a concurrent resolution or by
// the sweeper returns false without an error.
func (s *Store) Resolve(ctx context.Context, flowID, outcome string) (bool, error) {
	switch outcome {
	case StatusCompleted, StatusCancelled, StatusExpired:
	default:
		return false, fmt.Errorf("invalid flow outcome %q", outcome)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE pending_flows
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		flowID, outcome, StatusPending)
	if err != nil {
		return false, fmt.Errorf("resolve flow %s: %w", flowID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Sweep marks overdue pending flows as expired and deletes rows that have
// been expired for longer than the retention window.
func (s *Store) Sweep(ctx context.Context, retention time.Duration) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE pending_flows
		SET status = $1, updated_at = now()
		WHERE status = $2 AND expires_at <= now()`,
		StatusExpired, StatusPending); err != nil {
		return fmt.Errorf("expire overdue flows: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM pending_flows
		WHERE status <> $1 AND updated_at < $2`,
		StatusPending, time.Now().Add(-retention))
	if err != nil {
		return fmt.Errorf("delete settled flows: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("flows swept", slog.Int64("deleted", n))
	}
	return nil
}
