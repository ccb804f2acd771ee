package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	// raster formats accepted for validation sniffing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/cleverschool/edubot/internal/storage"
)

var (
	ErrNotAnImage     = errors.New("intake: not an image")
	ErrDownloadFailed = errors.New("intake: download failed")
	ErrTooLarge       = errors.New("intake: image too large")
)

// Service downloads detected images, validates them and persists them to
// the blob store under a deterministic per-message path.
type Service struct {
	provider  storage.Provider
	logger    *slog.Logger
	client    *http.Client
	maxBytes  int64
	signedTTL time.Duration
}

func NewService(logger *slog.Logger, provider storage.Provider, maxBytes int64, downloadTimeout, signedTTL time.Duration) *Service {
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 20 * time.Second
	}
	if signedTTL <= 0 {
		signedTTL = 10 * time.Minute
	}
	return &Service{
		provider:  provider,
		logger:    logger.With(slog.String("service", "intake")),
		client:    &http.Client{Timeout: downloadTimeout},
		maxBytes:  maxBytes,
		signedTTL: signedTTL,
	}
}

// Ingest fetches the image behind a detected source, re-validates it and
// stores it. The returned signed URL is short-lived; use ReSign before any
// later remote fetch.
func (s *Service) Ingest(ctx context.Context, msg Message, src Source) (Stored, error) {
	data, contentType, err := s.fetch(ctx, src)
	if err != nil {
		return Stored{}, err
	}

	ext, ok := validateImage(data, contentType, src)
	if !ok {
		return Stored{}, ErrNotAnImage
	}

	key := objectKey(msg, ext)
	if err := s.provider.Put(ctx, key, bytes.NewReader(data), "image/"+strings.TrimPrefix(ext, ".")); err != nil {
		return Stored{}, fmt.Errorf("store image: %w", err)
	}

	url, err := s.provider.SignedURL(ctx, key, s.signedTTL)
	if err != nil {
		return Stored{}, fmt.Errorf("sign image url: %w", err)
	}

	s.logger.Debug("image stored",
		slog.String("key", key),
		slog.String("kind", string(src.Kind)),
		slog.Int("bytes", len(data)))
	return Stored{Path: key, SignedURL: url, ContentType: "image/" + strings.TrimPrefix(ext, ".")}, nil
}

// ReSign issues a fresh signed URL for a previously stored image.
func (s *Service) ReSign(ctx context.Context, key string) (string, error) {
	return s.provider.SignedURL(ctx, key, s.signedTTL)
}

// Delete removes a stored image, used when a flow is cancelled.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.provider.Delete(ctx, key)
}

func (s *Service) fetch(ctx context.Context, src Source) ([]byte, string, error) {
	if src.Kind == SourceDataURI {
		return decodeDataURI(src.Data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, "", ErrTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func decodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", ErrNotAnImage
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrNotAnImage
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad base64", ErrNotAnImage)
	}
	return data, contentType, nil
}

// validateImage decides whether the fetched bytes are an image and picks the
// stored extension. The fetched content type wins; a trusted extension on
// the source is next; decoding the bytes is the last resort, which covers
// CDNs that omit the content type entirely.
func validateImage(data []byte, contentType string, src Source) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if strings.HasPrefix(ct, "image/") {
		if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
			return preferredExt(exts), true
		}
		return ".png", true
	}
	if ct != "" && ct != "application/octet-stream" {
		return "", false
	}

	for _, name := range []string{src.Filename, src.URL} {
		if HasImageExtension(name) {
			return strings.ToLower(path.Ext(stripQuery(name))), true
		}
	}

	if format, ok := sniffImage(data); ok {
		return "." + format, true
	}
	return "", false
}

func sniffImage(data []byte) (string, bool) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return "", false
	}
	return format, true
}

func preferredExt(exts []string) string {
	// mime returns ".jpe" first for image/jpeg on some platforms
	for _, e := range exts {
		if imageExts[e] {
			return e
		}
	}
	return exts[0]
}

func stripQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}

func objectKey(msg Message, ext string) string {
	guild := msg.GuildID
	if guild == "" {
		guild = "dm"
	}
	return fmt.Sprintf("discord/%s/%s/%s/%s%s", guild, msg.ChannelID, msg.UserID, msg.ID, ext)
}
