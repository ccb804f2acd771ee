package intake

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	dataURIRe = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>]+`)
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
}

// Detect scans a message for an image, trying the cheapest signals first:
// attachments, then inline data URIs, then linked URLs, then embeds. The
// first hit wins.
func Detect(msg Message) (Source, bool) {
	for _, a := range msg.Attachments {
		if attachmentIsImage(a) {
			return Source{
				Kind:        SourceAttachment,
				URL:         a.URL,
				Filename:    a.Filename,
				ContentType: a.ContentType,
			}, true
		}
	}

	if uri := dataURIRe.FindString(msg.Content); uri != "" {
		return Source{Kind: SourceDataURI, Data: uri}, true
	}

	// A URL with an image extension wins; otherwise the first URL is a
	// candidate anyway, since CDN links often carry no extension. Ingest
	// validates the downloaded bytes, so a false positive falls through.
	var first string
	for _, raw := range urlRe.FindAllString(msg.Content, -1) {
		u := trimURL(raw)
		if HasImageExtension(u) {
			return Source{Kind: SourceLinkedURL, URL: u}, true
		}
		if first == "" {
			first = u
		}
	}
	if first != "" {
		return Source{Kind: SourceLinkedURL, URL: first}, true
	}

	for _, e := range msg.Embeds {
		switch {
		case e.ImageURL != "":
			return Source{Kind: SourceEmbed, URL: e.ImageURL}, true
		case e.ThumbnailURL != "":
			return Source{Kind: SourceEmbed, URL: e.ThumbnailURL}, true
		case e.URL != "":
			return Source{Kind: SourceEmbed, URL: e.URL}, true
		}
	}

	return Source{}, false
}

func attachmentIsImage(a Attachment) bool {
	if strings.HasPrefix(strings.ToLower(a.ContentType), "image/") {
		return true
	}
	if HasImageExtension(a.Filename) || HasImageExtension(a.URL) {
		return true
	}
	// Discord fills dimensions for renderable images even when the
	// content type is missing.
	return a.Width > 0 && a.Height > 0
}

// HasImageExtension reports whether the URL or filename path ends in a known
// raster image extension. Query strings are ignored.
func HasImageExtension(s string) bool {
	if s == "" {
		return false
	}
	p := s
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		p = u.Path
	}
	return imageExts[strings.ToLower(path.Ext(p))]
}

// trimURL strips punctuation that chat clients append when a URL ends a
// sentence.
func trimURL(s string) string {
	return strings.TrimRight(s, ".,;:!?)>]}'\"")
}
