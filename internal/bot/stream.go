package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/cleverschool/edubot/internal/respond"
)

const discordMessageLimit = 2000

// streamReply streams a completion into a single Discord message: the first
// chunk sends the reply, later chunks edit it at the configured cadence, and
// the final edit carries the fully sanitized text. If the stream produces
// nothing it falls back to a single-shot completion. Returns the final text,
// empty when nothing could be produced.
func (b *Bot) streamReply(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, fullPrompt string, opts respond.Options) string {
	stopTyping := b.keepTyping(ctx, s, m.ChannelID)
	defer stopTyping()

	chunkCh, errCh := b.responder.GenerateStream(ctx, fullPrompt, m.Content, opts)

	var (
		buffer   strings.Builder
		msgID    string
		lastSent string
	)
	ticker := time.NewTicker(b.editInterval)
	defer ticker.Stop()

	flush := func() {
		text := respond.Sanitize(buffer.String())
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || trimmed == lastSent {
			return
		}
		if msgID == "" {
			msg, err := s.ChannelMessageSendReply(m.ChannelID, truncateDiscordText(trimmed), &discordgo.MessageReference{
				ChannelID: m.ChannelID,
				MessageID: m.ID,
			})
			if err != nil {
				b.logger.Error("stream send failed", slog.Any("error", err))
				return
			}
			msgID = msg.ID
			lastSent = trimmed
			return
		}
		if !b.allowEdit(m.ChannelID) {
			return
		}
		if _, err := s.ChannelMessageEdit(m.ChannelID, msgID, truncateDiscordText(trimmed)); err != nil {
			b.logger.Error("stream edit failed", slog.Any("error", err))
			return
		}
		lastSent = trimmed
	}

	for chunkCh != nil {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
				continue
			}
			buffer.WriteString(chunk)
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			chunkCh = nil
		}
	}
	if err := <-errCh; err != nil {
		b.logger.Error("stream errored",
			slog.String("message_id", m.ID),
			slog.Any("error", err))
	}

	final := respond.SanitizeFinal(buffer.String())
	if final == "" {
		final = b.fallbackReply(ctx, fullPrompt, m.Content, opts)
		if final == "" {
			return ""
		}
	}

	if msgID == "" {
		b.send(s, m.ChannelID, final)
		return final
	}
	if final != lastSent {
		if _, err := s.ChannelMessageEdit(m.ChannelID, msgID, truncateDiscordText(final)); err != nil {
			b.logger.Error("final edit failed", slog.Any("error", err))
		}
	}
	return final
}

// allowEdit throttles message edits. Discord limits edits to roughly 5 per
// 5 seconds per channel, so each channel gets its own limiter.
func (b *Bot) allowEdit(channelID string) bool {
	v, _ := b.editLimiters.LoadOrStore(channelID, rate.NewLimiter(rate.Every(time.Second), 2))
	return v.(*rate.Limiter).Allow()
}

// fallbackReply runs a single-shot completion when streaming yielded no
// usable text.
func (b *Bot) fallbackReply(ctx context.Context, fullPrompt, message string, opts respond.Options) string {
	answer, err := b.responder.Generate(ctx, fullPrompt, message, opts)
	if err != nil {
		b.logger.Error("fallback generation failed", slog.Any("error", err))
		b.supervisor.RecordError(err)
		return ""
	}
	return respond.SanitizeFinal(answer)
}

// keepTyping shows the typing indicator until the returned stop function is
// called. Discord drops the indicator after roughly ten seconds, so it is
// refreshed on an interval.
func (b *Bot) keepTyping(ctx context.Context, s *discordgo.Session, channelID string) func() {
	done := make(chan struct{})
	go func() {
		_ = s.ChannelTyping(channelID)
		ticker := time.NewTicker(b.typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.ChannelTyping(channelID)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func truncateDiscordText(text string) string {
	if len(text) <= discordMessageLimit {
		return text
	}
	cut := text[:discordMessageLimit-3]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
