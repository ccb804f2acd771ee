package intake

// Message is the platform-neutral shape of an incoming chat message, carrying
// only what image detection needs.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	UserID    string
	Content   string

	Attachments []Attachment
	Embeds      []Embed
}

type Attachment struct {
	ID          string
	URL         string
	Filename    string
	ContentType string
	Width       int
	Height      int
}

type Embed struct {
	URL          string
	ImageURL     string
	ThumbnailURL string
}

type SourceKind string

const (
	SourceAttachment SourceKind = "attachment"
	SourceDataURI    SourceKind = "data_uri"
	SourceLinkedURL  SourceKind = "linked_url"
	SourceEmbed      SourceKind = "embed"
)

// Source is a detected image candidate. Exactly one of URL or Data is set
// depending on the kind.
type Source struct {
	Kind        SourceKind
	URL         string
	Data        string // raw data URI, only for SourceDataURI
	Filename    string
	ContentType string
}

// Stored describes an image persisted to the blob store.
type Stored struct {
	Path        string
	SignedURL   string
	ContentType string
}
