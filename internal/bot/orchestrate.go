package bot

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cleverschool/edubot/internal/contexts"
	"github.com/cleverschool/edubot/internal/directory"
	"github.com/cleverschool/edubot/internal/flows"
	"github.com/cleverschool/edubot/internal/intake"
	"github.com/cleverschool/edubot/internal/interactions"
	"github.com/cleverschool/edubot/internal/prompt"
	"github.com/cleverschool/edubot/internal/respond"
)

// User-facing texts for the image choice flow.
const (
	intakePromptText = "Recebi sua imagem! Como você quer que eu analise?\n" +
		"1) Resposta rápida e objetiva\n" +
		"2) Raciocínio detalhado (pode demorar mais)\n" +
		"3) Não analisar"
	choiceRePromptText = "Por favor, responda com 1, 2 ou 3 para escolher o modelo."
	cancelAckText      = "Beleza! Não vou analisar esta imagem. Se quiser, envie outra quando preferir."
	imageExpiredText   = "A imagem expirou. Por favor, envie novamente."
	imageFailedText    = "Não consegui processar esta imagem. Podes tentar enviar novamente?"
)

type flowChoice int

const (
	choiceNone flowChoice = iota
	choiceFast
	choiceDetailed
	choiceCancel
)

var (
	choiceFastRe     = regexp.MustCompile(`(?i)^\s*(1|instruct)\b`)
	choiceDetailedRe = regexp.MustCompile(`(?i)^\s*(2|think|thinking)\b`)
	choiceCancelRe   = regexp.MustCompile(`(?i)^\s*(3|nao|não|no)\b`)

	// only an unambiguous bare digit counts as a stray choice reply
	bareChoiceRe = regexp.MustCompile(`^\s*[123]\s*$`)
)

func parseChoice(content string) flowChoice {
	switch {
	case choiceFastRe.MatchString(content):
		return choiceFast
	case choiceDetailedRe.MatchString(content):
		return choiceDetailed
	case choiceCancelRe.MatchString(content):
		return choiceCancel
	default:
		return choiceNone
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if m.Content == "" && len(m.Attachments) == 0 && len(m.Embeds) == 0 {
		return
	}
	if b.isDuplicate(m.ID) {
		return
	}
	b.supervisor.RecordActivity()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	isDM := m.GuildID == ""
	if !isDM {
		ok, err := b.dir.ShouldRespondInChannel(ctx, m.GuildID, m.ChannelID)
		if err != nil {
			b.logger.Error("respond check failed",
				slog.String("guild_id", m.GuildID),
				slog.Any("error", err))
			return
		}
		if !ok {
			return
		}
		if err := b.dir.RegisterChannel(ctx, m.ChannelID, m.GuildID, channelName(s, m.ChannelID)); err != nil {
			b.logger.Warn("channel register failed", slog.Any("error", err))
		}
	}
	if err := b.dir.RegisterUser(ctx, m.Author.ID, m.Author.Username); err != nil {
		b.logger.Warn("user register failed", slog.Any("error", err))
	}

	// a fresh image supersedes any pending choice; Create force-expires it
	if src, ok := intake.Detect(toIntakeMessage(m)); ok {
		b.handleImage(ctx, s, m, src)
		return
	}

	flow, err := b.flows.GetActive(ctx, m.Author.ID, m.ChannelID, flows.TypeImageChoice)
	switch {
	case err == nil:
		b.handleFlowChoice(ctx, s, m, flow)
		return
	case errors.Is(err, flows.ErrNoActiveFlow):
		// a bare numeric choice with no flow means the flow already expired
		if bareChoiceRe.MatchString(m.Content) {
			b.send(s, m.ChannelID, imageExpiredText)
			return
		}
	default:
		b.logger.Error("flow lookup failed", slog.Any("error", err))
		return
	}

	if m.Content == "" {
		return
	}
	b.handleText(ctx, s, m, isDM)
}

func (b *Bot) handleImage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, src intake.Source) {
	stored, err := b.intake.Ingest(ctx, toIntakeMessage(m), src)
	if err != nil {
		if errors.Is(err, intake.ErrNotAnImage) {
			// the signal was a false positive; treat as plain text
			if m.Content != "" {
				b.handleText(ctx, s, m, m.GuildID == "")
			}
			return
		}
		b.logger.Error("image intake failed",
			slog.String("message_id", m.ID),
			slog.Any("error", err))
		b.send(s, m.ChannelID, imageFailedText)
		return
	}

	_, err = b.flows.Create(ctx, m.Author.ID, m.ChannelID, flows.TypeImageChoice, flows.StateData{
		ImageURL:  stored.SignedURL,
		ImagePath: stored.Path,
		Caption:   m.Content,
		MessageID: m.ID,
	})
	if err != nil {
		b.logger.Error("flow create failed", slog.Any("error", err))
		b.send(s, m.ChannelID, imageFailedText)
		return
	}

	b.send(s, m.ChannelID, intakePromptText)
}

func (b *Bot) handleFlowChoice(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, flow flows.Flow) {
	choice := parseChoice(m.Content)
	if choice == choiceNone {
		b.send(s, m.ChannelID, choiceRePromptText)
		return
	}

	if choice == choiceCancel {
		won, err := b.flows.Resolve(ctx, flow.ID, flows.StatusCancelled)
		if err != nil {
			b.logger.Error("flow cancel failed", slog.Any("error", err))
			return
		}
		if !won {
			b.send(s, m.ChannelID, imageExpiredText)
			return
		}
		if err := b.intake.Delete(ctx, flow.State.ImagePath); err != nil {
			b.logger.Warn("stored image delete failed", slog.Any("error", err))
		}
		b.send(s, m.ChannelID, cancelAckText)
		return
	}

	won, err := b.flows.Resolve(ctx, flow.ID, flows.StatusCompleted)
	if err != nil {
		b.logger.Error("flow resolve failed", slog.Any("error", err))
		return
	}
	if !won {
		// the flow was settled elsewhere while the user decided
		b.send(s, m.ChannelID, imageExpiredText)
		return
	}

	model := b.aiCfg.VisionModelFast
	if choice == choiceDetailed {
		model = b.aiCfg.VisionModelDetailed
	}

	// the stored URL may have lapsed while the user decided
	signedURL, err := b.intake.ReSign(ctx, flow.State.ImagePath)
	if err != nil {
		b.logger.Error("image re-sign failed", slog.Any("error", err))
		b.send(s, m.ChannelID, imageExpiredText)
		return
	}

	stopTyping := b.keepTyping(ctx, s, m.ChannelID)
	defer stopTyping()

	started := time.Now()
	answer, err := b.responder.GenerateVision(ctx, flow.State.Caption, signedURL, model)
	if err != nil {
		b.logger.Error("vision generation failed",
			slog.String("model", model),
			slog.Any("error", err))
		b.send(s, m.ChannelID, imageFailedText)
		return
	}
	answer = respond.SanitizeFinal(answer)
	if answer == "" {
		b.send(s, m.ChannelID, imageFailedText)
		return
	}
	b.send(s, m.ChannelID, answer)

	b.logInteraction(ctx, m, answer, interactions.ContextUsed{Model: model}, time.Since(started))
}

func (b *Bot) handleText(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, isDM bool) {
	var (
		resolved contexts.Resolved
		err      error
	)
	if isDM {
		resolved, err = b.resolver.ResolveDirect(ctx, m.Author.ID, m.Author.Username)
	} else {
		resolved, err = b.resolver.ResolveGuild(ctx, m.GuildID, m.ChannelID, m.Author.ID, m.Author.Username)
	}
	if err != nil {
		b.logger.Error("context resolution failed",
			slog.String("message_id", m.ID),
			slog.Any("error", err))
		return
	}

	history, err := b.interactions.History(ctx, m.Author.ID, m.ChannelID, m.GuildID)
	if err != nil {
		b.logger.Warn("history load failed", slog.Any("error", err))
	}

	fullPrompt := b.prompts.Build(m.Content, resolved, toPromptTurns(history))
	opts := b.optionsFor(ctx, resolved)

	started := time.Now()
	answer := b.streamReply(ctx, s, m, fullPrompt, opts)
	if answer == "" {
		return
	}

	b.logInteraction(ctx, m, answer, interactions.ContextUsed{
		Layers:     resolved.Layers,
		Confidence: resolved.Confidence,
		SchoolID:   resolved.SchoolID,
		ClassID:    resolved.ClassID,
		StudentID:  resolved.StudentID,
	}, time.Since(started))
}

// optionsFor loads per-school generation overrides. Failures fall back to
// the process defaults.
func (b *Bot) optionsFor(ctx context.Context, resolved contexts.Resolved) respond.Options {
	if resolved.SchoolID == "" || resolved.SchoolID == contexts.DMSchoolSentinel {
		return respond.Options{}
	}
	cfg, err := b.dir.AIConfig(ctx, resolved.SchoolID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			b.logger.Warn("school ai config load failed", slog.Any("error", err))
		}
		return respond.Options{}
	}
	return respond.Options{
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		WebSearchPolicy: cfg.WebSearchMode,
	}
}

func (b *Bot) logInteraction(ctx context.Context, m *discordgo.MessageCreate, answer string, used interactions.ContextUsed, elapsed time.Duration) {
	guildID := m.GuildID
	if guildID == "" {
		guildID = contexts.DMSchoolSentinel
	}
	err := b.interactions.Log(ctx, interactions.Interaction{
		MessageID:      m.ID,
		UserID:         m.Author.ID,
		ChannelID:      m.ChannelID,
		GuildID:        guildID,
		Content:        m.Content,
		Response:       answer,
		ContextUsed:    used,
		ResponseTimeMs: int(elapsed.Milliseconds()),
	})
	if err != nil {
		b.logger.Warn("interaction log failed", slog.Any("error", err))
	}
}

func (b *Bot) send(s *discordgo.Session, channelID, text string) {
	if _, err := s.ChannelMessageSend(channelID, truncateDiscordText(text)); err != nil {
		b.logger.Error("message send failed",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
}

func toIntakeMessage(m *discordgo.MessageCreate) intake.Message {
	msg := intake.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Content:   m.Content,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, intake.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Width:       a.Width,
			Height:      a.Height,
		})
	}
	for _, e := range m.Embeds {
		emb := intake.Embed{URL: e.URL}
		if e.Image != nil {
			emb.ImageURL = e.Image.URL
		}
		if e.Thumbnail != nil {
			emb.ThumbnailURL = e.Thumbnail.URL
		}
		msg.Embeds = append(msg.Embeds, emb)
	}
	return msg
}

func toPromptTurns(history []interactions.Turn) []prompt.Turn {
	turns := make([]prompt.Turn, 0, len(history))
	for _, t := range history {
		turns = append(turns, prompt.Turn{Role: t.Role, Content: t.Content, Timestamp: t.Timestamp})
	}
	return turns
}

func channelName(s *discordgo.Session, channelID string) string {
	if ch, err := s.State.Channel(channelID); err == nil && ch != nil {
		return ch.Name
	}
	return ""
}
