package respond

import (
	"regexp"
	"strings"
)

// Web-search policies.
const (
	PolicyAlways  = "always"
	PolicyNever   = "never"
	PolicyKeyword = "keyword"
)

// FallbackOnlineModel answers current-events questions when the configured
// model has no web-enabled variant.
const FallbackOnlineModel = "deepseek/deepseek-chat:online"

// currentEventsRe matches questions about recent or time-sensitive topics.
// \b does not work for accented Portuguese words, so word boundaries are
// expressed with \PL instead.
var currentEventsRe = regexp.MustCompile(`(?i)(?:^|\PL)(hoje|agora|atual|atuais|recente|recentes|últim[oa]s?|nova?s?|notícias?|preços?|cotaç(?:ão|ões)|tempo|clima|discord|servidor|presidente|primeiro[- ]?ministro|eleiç(?:ão|ões)|posse|mandato|governo|política|ministro)(?:\PL|$)`)

// NeedsWebSearch reports whether the user's message asks about something the
// model cannot know from training data alone.
func NeedsWebSearch(message string) bool {
	return currentEventsRe.MatchString(message)
}

// RouteModel applies the web-search policy to the chosen model. When search
// is wanted the model is switched to its web-enabled variant; free-tier
// models have none, so they route to the fallback.
func RouteModel(model, message, policy string) string {
	var search bool
	switch policy {
	case PolicyAlways:
		search = true
	case PolicyNever:
		search = false
	default:
		search = NeedsWebSearch(message)
	}
	if !search {
		return model
	}
	return onlineVariant(model)
}

func onlineVariant(model string) string {
	if strings.HasSuffix(model, ":online") {
		return model
	}
	if strings.HasSuffix(model, ":free") {
		return FallbackOnlineModel
	}
	return model + ":online"
}
