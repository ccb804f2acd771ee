package respond

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsWebSearch(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"o que aconteceu hoje em Portugal?", true},
		{"qual é a cotação do euro?", true},
		{"quem é o primeiro-ministro?", true},
		{"últimas notícias sobre as eleições", true},
		{"como está o tempo em Lisboa?", true},
		{"explica-me frações", false},
		{"quanto é 2+2?", false},
		// substring of a larger word must not match
		{"fala-me do protágoras", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NeedsWebSearch(tt.message), "message: %s", tt.message)
	}
}

func TestRouteModelPolicies(t *testing.T) {
	msg := "o que aconteceu hoje?"

	// keyword policy switches on match
	assert.Equal(t, "deepseek/deepseek-chat:online", RouteModel("deepseek/deepseek-chat", msg, PolicyKeyword))
	// never policy keeps the base model even for current-events questions
	assert.Equal(t, "deepseek/deepseek-chat", RouteModel("deepseek/deepseek-chat", msg, PolicyNever))
	// always policy switches regardless of content
	assert.Equal(t, "deepseek/deepseek-chat:online", RouteModel("deepseek/deepseek-chat", "explica frações", PolicyAlways))
	// non-matching message under keyword keeps the base model
	assert.Equal(t, "deepseek/deepseek-chat", RouteModel("deepseek/deepseek-chat", "explica frações", PolicyKeyword))
}

func TestRouteModelFreeTierFallsBack(t *testing.T) {
	got := RouteModel("google/gemini-2.0-flash-exp:free", "notícias de hoje", PolicyKeyword)
	assert.Equal(t, FallbackOnlineModel, got)
}

func TestRouteModelAlreadyOnline(t *testing.T) {
	got := RouteModel("deepseek/deepseek-chat:online", "notícias de hoje", PolicyAlways)
	assert.Equal(t, "deepseek/deepseek-chat:online", got)
}
