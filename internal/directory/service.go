package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a mapping or record does not exist. Callers
// treat it as an absent layer, not a failure.
var ErrNotFound = errors.New("directory: not found")

// DBTX is the subset of pgxpool.Pool the service needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service maintains the mapping between platform identifiers and the
// school directory (schools, classes, students) plus per-guild bot
// configuration.
type Service struct {
	db     DBTX
	logger *slog.Logger
}

func NewService(logger *slog.Logger, db DBTX) *Service {
	return &Service{
		db:     db,
		logger: logger.With(slog.String("service", "directory")),
	}
}

func (s *Service) RegisterGuild(ctx context.Context, guildID, name string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO discord_guilds (guild_id, name, active)
		VALUES ($1, $2, true)
		ON CONFLICT (guild_id) DO UPDATE
		SET name = EXCLUDED.name, active = true, updated_at = now()`,
		guildID, name)
	if err != nil {
		return fmt.Errorf("register guild %s: %w", guildID, err)
	}
	return nil
}

func (s *Service) DeactivateGuild(ctx context.Context, guildID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE discord_guilds SET active = false, updated_at = now()
		WHERE guild_id = $1`, guildID)
	if err != nil {
		return fmt.Errorf("deactivate guild %s: %w", guildID, err)
	}
	return nil
}

func (s *Service) RegisterChannel(ctx context.Context, channelID, guildID, name string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO discord_channels (channel_id, guild_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id) DO UPDATE
		SET name = EXCLUDED.name, updated_at = now()`,
		channelID, guildID, name)
	if err != nil {
		return fmt.Errorf("register channel %s: %w", channelID, err)
	}
	return nil
}

func (s *Service) RegisterUser(ctx context.Context, userID, username string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO discord_users (user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username, updated_at = now()`,
		userID, username)
	if err != nil {
		return fmt.Errorf("register user %s: %w", userID, err)
	}
	return nil
}

func (s *Service) LinkGuildToSchool(ctx context.Context, guildID, schoolID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE discord_guilds SET school_id = $2, updated_at = now()
		WHERE guild_id = $1`, guildID, schoolID)
	if err != nil {
		return fmt.Errorf("link guild %s to school: %w", guildID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) LinkChannelToClass(ctx context.Context, channelID, classID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE discord_channels SET class_id = $2, updated_at = now()
		WHERE channel_id = $1`, channelID, classID)
	if err != nil {
		return fmt.Errorf("link channel %s to class: %w", channelID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) LinkUserToStudent(ctx context.Context, userID, studentID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE discord_users SET student_id = $2, updated_at = now()
		WHERE user_id = $1`, userID, studentID)
	if err != nil {
		return fmt.Errorf("link user %s to student: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GuildSchool resolves the school a guild is linked to.
func (s *Service) GuildSchool(ctx context.Context, guildID string) (School, error) {
	var out School
	err := s.db.QueryRow(ctx, `
		SELECT s.id::text, s.name, s.updated_at
		FROM discord_guilds g
		JOIN schools s ON s.id = g.school_id
		WHERE g.guild_id = $1 AND g.active`, guildID).
		Scan(&out.ID, &out.Name, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return School{}, ErrNotFound
		}
		return School{}, fmt.Errorf("guild school %s: %w", guildID, err)
	}
	return out, nil
}

// ChannelClass resolves the class a channel is linked to.
func (s *Service) ChannelClass(ctx context.Context, channelID string) (Class, error) {
	var out Class
	err := s.db.QueryRow(ctx, `
		SELECT c.id::text, c.school_id::text, c.name, c.updated_at
		FROM discord_channels ch
		JOIN classes c ON c.id = ch.class_id
		WHERE ch.channel_id = $1`, channelID).
		Scan(&out.ID, &out.SchoolID, &out.Name, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Class{}, ErrNotFound
		}
		return Class{}, fmt.Errorf("channel class %s: %w", channelID, err)
	}
	return out, nil
}

// ClassByID loads a class by its id. Used by the direct-message path,
// where the class is reached through the student instead of a channel.
func (s *Service) ClassByID(ctx context.Context, classID string) (Class, error) {
	var out Class
	err := s.db.QueryRow(ctx, `
		SELECT id::text, school_id::text, name, updated_at
		FROM classes
		WHERE id = $1`, classID).
		Scan(&out.ID, &out.SchoolID, &out.Name, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Class{}, ErrNotFound
		}
		return Class{}, fmt.Errorf("class %s: %w", classID, err)
	}
	return out, nil
}

// SchoolByID loads a school by its id.
func (s *Service) SchoolByID(ctx context.Context, schoolID string) (School, error) {
	var out School
	err := s.db.QueryRow(ctx, `
		SELECT id::text, name, updated_at
		FROM schools
		WHERE id = $1`, schoolID).
		Scan(&out.ID, &out.Name, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return School{}, ErrNotFound
		}
		return School{}, fmt.Errorf("school %s: %w", schoolID, err)
	}
	return out, nil
}

// UserStudent resolves the student linked to a platform user.
func (s *Service) UserStudent(ctx context.Context, userID string) (Student, error) {
	var out Student
	var classID *string
	err := s.db.QueryRow(ctx, `
		SELECT st.id::text, st.class_id::text, st.name, COALESCE(st.discord_id, ''), st.updated_at
		FROM discord_users u
		JOIN students st ON st.id = u.student_id
		WHERE u.user_id = $1`, userID).
		Scan(&out.ID, &classID, &out.Name, &out.DiscordID, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, fmt.Errorf("user student %s: %w", userID, err)
	}
	if classID != nil {
		out.ClassID = *classID
	}
	return out, nil
}

// StudentByDiscordID looks a student up by their recorded platform id.
// Used as a fallback when no explicit user mapping exists yet.
func (s *Service) StudentByDiscordID(ctx context.Context, discordID string) (Student, error) {
	var out Student
	var classID *string
	err := s.db.QueryRow(ctx, `
		SELECT id::text, class_id::text, name, COALESCE(discord_id, ''), updated_at
		FROM students WHERE discord_id = $1`, discordID).
		Scan(&out.ID, &classID, &out.Name, &out.DiscordID, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, fmt.Errorf("student by discord id: %w", err)
	}
	if classID != nil {
		out.ClassID = *classID
	}
	return out, nil
}

// ContextProfile fetches one layer of prompt context. scopeID is empty for
// the global layer.
func (s *Service) ContextProfile(ctx context.Context, scope, scopeID string) (ContextProfile, error) {
	var out ContextProfile
	var row pgx.Row
	if scopeID == "" {
		row = s.db.QueryRow(ctx, `
			SELECT id::text, scope, COALESCE(scope_id::text, ''), content
			FROM context_profiles WHERE scope = $1 AND scope_id IS NULL`, scope)
	} else {
		row = s.db.QueryRow(ctx, `
			SELECT id::text, scope, COALESCE(scope_id::text, ''), content
			FROM context_profiles WHERE scope = $1 AND scope_id = $2`, scope, scopeID)
	}
	if err := row.Scan(&out.ID, &out.Scope, &out.ScopeID, &out.Content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ContextProfile{}, ErrNotFound
		}
		return ContextProfile{}, fmt.Errorf("context profile %s: %w", scope, err)
	}
	return out, nil
}

// Materials returns the most recent educational materials visible for a
// school, optionally narrowed to one class.
func (s *Service) Materials(ctx context.Context, schoolID, classID string, limit int) ([]Material, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, title, content
		FROM educational_materials
		WHERE school_id = $1 AND ($2 = '' OR class_id::text = $2)
		ORDER BY created_at DESC
		LIMIT $3`, schoolID, classID, limit)
	if err != nil {
		return nil, fmt.Errorf("materials for school %s: %w", schoolID, err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Title, &m.Content); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BotConfig returns the per-guild reply configuration. Guilds without a row
// get the permissive default.
func (s *Service) BotConfig(ctx context.Context, guildID string) (GuildBotConfig, error) {
	out := GuildBotConfig{GuildID: guildID, AutoResponse: true}
	err := s.db.QueryRow(ctx, `
		SELECT auto_response, allowed_channels
		FROM guild_bot_config WHERE guild_id = $1`, guildID).
		Scan(&out.AutoResponse, &out.AllowedChannels)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return out, fmt.Errorf("bot config %s: %w", guildID, err)
	}
	return out, nil
}

func (s *Service) UpsertBotConfig(ctx context.Context, cfg GuildBotConfig) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO guild_bot_config (guild_id, auto_response, allowed_channels)
		VALUES ($1, $2, $3)
		ON CONFLICT (guild_id) DO UPDATE
		SET auto_response = EXCLUDED.auto_response,
		    allowed_channels = EXCLUDED.allowed_channels,
		    updated_at = now()`,
		cfg.GuildID, cfg.AutoResponse, cfg.AllowedChannels)
	if err != nil {
		return fmt.Errorf("upsert bot config %s: %w", cfg.GuildID, err)
	}
	return nil
}

// AIConfig returns per-school generation overrides.
func (s *Service) AIConfig(ctx context.Context, schoolID string) (SchoolAIConfig, error) {
	out := SchoolAIConfig{SchoolID: schoolID}
	var model, mode *string
	var temp *float64
	var maxTokens *int
	err := s.db.QueryRow(ctx, `
		SELECT model, temperature, max_tokens, web_search_mode
		FROM school_ai_config WHERE school_id = $1`, schoolID).
		Scan(&model, &temp, &maxTokens, &mode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, ErrNotFound
		}
		return out, fmt.Errorf("ai config %s: %w", schoolID, err)
	}
	if model != nil {
		out.Model = *model
	}
	if temp != nil {
		out.Temperature = *temp
	}
	if maxTokens != nil {
		out.MaxTokens = *maxTokens
	}
	if mode != nil {
		out.WebSearchMode = *mode
	}
	return out, nil
}

// ShouldRespondInChannel applies the per-guild reply policy.
func (s *Service) ShouldRespondInChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	cfg, err := s.BotConfig(ctx, guildID)
	if err != nil {
		return false, err
	}
	if !cfg.AutoResponse {
		return false, nil
	}
	if len(cfg.AllowedChannels) == 0 {
		return true, nil
	}
	for _, id := range cfg.AllowedChannels {
		if id == channelID {
			return true, nil
		}
	}
	return false, nil
}
