package directory

import "time"

type School struct {
	ID        string
	Name      string
	UpdatedAt time.Time
}

type Class struct {
	ID        string
	SchoolID  string
	Name      string
	UpdatedAt time.Time
}

type Student struct {
	ID        string
	ClassID   string
	Name      string
	DiscordID string
	UpdatedAt time.Time
}

// ContextProfile is one layer of free-form prompt context. ScopeID is empty
// for the global scope.
type ContextProfile struct {
	ID      string
	Scope   string
	ScopeID string
	Content string
}

type Material struct {
	ID      string
	Title   string
	Content string
}

// GuildBotConfig controls where the bot replies inside one guild. An empty
// AllowedChannels list means every channel is allowed.
type GuildBotConfig struct {
	GuildID         string
	AutoResponse    bool
	AllowedChannels []string
}

// SchoolAIConfig overrides generation parameters for every guild linked to
// one school. Zero-valued fields fall back to the process defaults.
type SchoolAIConfig struct {
	SchoolID      string
	Model         string
	Temperature   float64
	MaxTokens     int
	WebSearchMode string
}

const (
	ScopeGlobal  = "global"
	ScopeSchool  = "school"
	ScopeClass   = "class"
	ScopeStudent = "student"
)
