// Package bot connects the Discord gateway to the context pipeline: it
// routes every incoming message through flow handling, image intake and
// the streaming response path.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/cleverschool/edubot/internal/config"
	"github.com/cleverschool/edubot/internal/contexts"
	"github.com/cleverschool/edubot/internal/directory"
	"github.com/cleverschool/edubot/internal/flows"
	"github.com/cleverschool/edubot/internal/intake"
	"github.com/cleverschool/edubot/internal/interactions"
	"github.com/cleverschool/edubot/internal/prompt"
	"github.com/cleverschool/edubot/internal/respond"
	"github.com/cleverschool/edubot/internal/supervisor"
)

const dedupWindow = 10 * time.Minute

type Bot struct {
	session *discordgo.Session
	logger  *slog.Logger

	dir          *directory.Service
	resolver     *contexts.Resolver
	flows        *flows.Store
	intake       *intake.Service
	prompts      *prompt.Builder
	responder    *respond.Service
	interactions *interactions.Service
	supervisor   *supervisor.Supervisor

	aiCfg          config.AIConfig
	editInterval   time.Duration
	typingInterval time.Duration

	editLimiters sync.Map // channel id -> *rate.Limiter
	seen         sync.Map // message id -> time.Time, inbound dedup
}

func New(
	logger *slog.Logger,
	cfg config.DiscordConfig,
	aiCfg config.AIConfig,
	dir *directory.Service,
	resolver *contexts.Resolver,
	flowStore *flows.Store,
	intakeSvc *intake.Service,
	builder *prompt.Builder,
	responder *respond.Service,
	interactionsSvc *interactions.Service,
	sup *supervisor.Supervisor,
) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:        session,
		logger:         logger.With(slog.String("service", "bot")),
		dir:            dir,
		resolver:       resolver,
		flows:          flowStore,
		intake:         intakeSvc,
		prompts:        builder,
		responder:      responder,
		interactions:   interactionsSvc,
		supervisor:     sup,
		aiCfg:          aiCfg,
		editInterval:   time.Duration(cfg.StreamEditInterval) * time.Millisecond,
		typingInterval: time.Duration(cfg.TypingInterval) * time.Second,
	}
	if b.editInterval <= 0 {
		b.editInterval = 650 * time.Millisecond
	}
	if b.typingInterval <= 0 {
		b.typingInterval = 9 * time.Second
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onGuildDelete)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	b.supervisor.Started()
	return nil
}

func (b *Bot) Stop() error {
	err := b.session.Close()
	b.supervisor.Stopped(err)
	return err
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("gateway ready",
		slog.String("username", r.User.Username),
		slog.Int("guilds", len(r.Guilds)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var group errgroup.Group
	group.SetLimit(4)
	for _, g := range r.Guilds {
		group.Go(func() error {
			if err := b.dir.RegisterGuild(ctx, g.ID, g.Name); err != nil {
				b.logger.Error("guild sync failed",
					slog.String("guild_id", g.ID),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.dir.RegisterGuild(ctx, g.ID, g.Name); err != nil {
		b.logger.Error("guild register failed",
			slog.String("guild_id", g.ID),
			slog.Any("error", err))
	}
}

func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// outage, not a removal
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.dir.DeactivateGuild(ctx, g.ID); err != nil {
		b.logger.Error("guild deactivate failed",
			slog.String("guild_id", g.ID),
			slog.Any("error", err))
	}
}

// isDuplicate tracks recently handled message ids. Discord redelivers
// events after gateway reconnects.
func (b *Bot) isDuplicate(messageID string) bool {
	now := time.Now()
	if _, loaded := b.seen.LoadOrStore(messageID, now); loaded {
		return true
	}
	b.seen.Range(func(key, value any) bool {
		if t, ok := value.(time.Time); ok && now.Sub(t) > dedupWindow {
			b.seen.Delete(key)
		}
		return true
	})
	return false
}
