// Package interactions persists every answered message and serves the short
// conversation history used to build prompts.
package interactions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const historyRows = 7

// Interaction is one answered message with its context attribution.
type Interaction struct {
	MessageID      string
	UserID         string
	ChannelID      string
	GuildID        string
	Content        string
	Response       string
	ContextUsed    ContextUsed
	ResponseTimeMs int
}

// ContextUsed records which context layers fed the reply and how confident
// the resolution was.
type ContextUsed struct {
	Layers     []string `json:"layers"`
	Confidence float64  `json:"confidence"`
	SchoolID   string   `json:"school_id,omitempty"`
	ClassID    string   `json:"class_id,omitempty"`
	StudentID  string   `json:"student_id,omitempty"`
	Model      string   `json:"model,omitempty"`
}

// Turn is one half of a prior exchange, ordered oldest first.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Service struct {
	db     DBTX
	logger *slog.Logger
}

func NewService(logger *slog.Logger, db DBTX) *Service {
	return &Service{
		db:     db,
		logger: logger.With(slog.String("service", "interactions")),
	}
}

func (s *Service) Log(ctx context.Context, in Interaction) error {
	raw, err := json.Marshal(in.ContextUsed)
	if err != nil {
		return fmt.Errorf("encode context attribution: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO interactions
			(message_id, user_id, channel_id, guild_id, content, response, context_used, response_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.MessageID, in.UserID, in.ChannelID, in.GuildID, in.Content, in.Response, raw, in.ResponseTimeMs)
	if err != nil {
		return fmt.Errorf("log interaction: %w", err)
	}
	return nil
}

// History returns the user's recent exchanges as alternating user and
// assistant turns, oldest first. The channel is tried first; an empty
// result falls back to the user's guild-wide history, so a student who
// moved channels keeps their thread. Each stored row yields up to two
// turns.
func (s *Service) History(ctx context.Context, userID, channelID, guildID string) ([]Turn, error) {
	turns, err := s.load(ctx, `
		SELECT content, response, created_at
		FROM interactions
		WHERE user_id = $1 AND channel_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, userID, channelID)
	if err != nil || len(turns) > 0 || guildID == "" {
		return turns, err
	}
	return s.load(ctx, `
		SELECT content, response, created_at
		FROM interactions
		WHERE user_id = $1 AND guild_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, userID, guildID)
}

func (s *Service) load(ctx context.Context, query, userID, scopeID string) ([]Turn, error) {
	rows, err := s.db.Query(ctx, query, userID, scopeID, historyRows)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	type record struct {
		content   string
		response  string
		createdAt time.Time
	}
	var records []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.content, &r.response, &r.createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// rows come newest first; turns go out oldest first
	var turns []Turn
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.content != "" {
			turns = append(turns, Turn{Role: "user", Content: r.content, Timestamp: r.createdAt})
		}
		if r.response != "" {
			turns = append(turns, Turn{Role: "assistant", Content: r.response, Timestamp: r.createdAt})
		}
	}
	return turns, nil
}
