package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	objects map[string][]byte
	types   map[string]string
	signed  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeProvider) Put(_ context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeProvider) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.signed++
	return "https://signed.example.com/" + key, nil
}

func (f *fakeProvider) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestIngestAttachmentWithEmptyContentType(t *testing.T) {
	// CDN strips the content type; the .jpg filename is still trusted.
	raw := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	provider := newFakeProvider()
	svc := NewService(testLogger(), provider, 1<<20, time.Second, time.Minute)

	msg := Message{ID: "m1", GuildID: "g1", ChannelID: "c1", UserID: "u1"}
	src := Source{Kind: SourceAttachment, URL: srv.URL + "/photo.jpg", Filename: "photo.jpg"}

	stored, err := svc.Ingest(context.Background(), msg, src)
	require.NoError(t, err)
	assert.Equal(t, "discord/g1/c1/u1/m1.jpg", stored.Path)
	assert.Equal(t, "https://signed.example.com/discord/g1/c1/u1/m1.jpg", stored.SignedURL)
	assert.Equal(t, raw, provider.objects[stored.Path])
}

func TestIngestSniffsBytesWhenNothingElseHelps(t *testing.T) {
	// no content type, no extension anywhere: the bytes must decode
	raw := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	svc := NewService(testLogger(), newFakeProvider(), 1<<20, time.Second, time.Minute)
	msg := Message{ID: "m1", ChannelID: "c1", UserID: "u1"}

	stored, err := svc.Ingest(context.Background(), msg, Source{Kind: SourceLinkedURL, URL: srv.URL + "/blob"})
	require.NoError(t, err)
	// DMs file under the dm segment
	assert.Equal(t, "discord/dm/c1/u1/m1.png", stored.Path)
}

func TestIngestRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	svc := NewService(testLogger(), newFakeProvider(), 1<<20, time.Second, time.Minute)
	msg := Message{ID: "m1", GuildID: "g1", ChannelID: "c1", UserID: "u1"}

	_, err := svc.Ingest(context.Background(), msg, Source{Kind: SourceLinkedURL, URL: srv.URL + "/blob"})
	assert.ErrorIs(t, err, ErrNotAnImage)
}

func TestIngestRejectsDeclaredNonImageContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(pngBytes(t))
	}))
	defer srv.Close()

	svc := NewService(testLogger(), newFakeProvider(), 1<<20, time.Second, time.Minute)
	msg := Message{ID: "m1", GuildID: "g1", ChannelID: "c1", UserID: "u1"}

	_, err := svc.Ingest(context.Background(), msg, Source{Kind: SourceLinkedURL, URL: srv.URL + "/x.jpg"})
	assert.ErrorIs(t, err, ErrNotAnImage)
}

func TestIngestDataURI(t *testing.T) {
	raw := pngBytes(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	provider := newFakeProvider()
	svc := NewService(testLogger(), provider, 1<<20, time.Second, time.Minute)
	msg := Message{ID: "m1", GuildID: "g1", ChannelID: "c1", UserID: "u1"}

	stored, err := svc.Ingest(context.Background(), msg, Source{Kind: SourceDataURI, Data: uri})
	require.NoError(t, err)
	assert.Equal(t, raw, provider.objects[stored.Path])
	assert.Equal(t, "image/png", stored.ContentType)
}

func TestIngestTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 2048))
	}))
	defer srv.Close()

	svc := NewService(testLogger(), newFakeProvider(), 1024, time.Second, time.Minute)
	msg := Message{ID: "m1", GuildID: "g1", ChannelID: "c1", UserID: "u1"}

	_, err := svc.Ingest(context.Background(), msg, Source{Kind: SourceLinkedURL, URL: srv.URL + "/big.png"})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestIngestDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc := NewService(testLogger(), newFakeProvider(), 1<<20, time.Second, time.Minute)
	msg := Message{ID: "m1", GuildID: "g1", ChannelID: "c1", UserID: "u1"}

	_, err := svc.Ingest(context.Background(), msg, Source{Kind: SourceLinkedURL, URL: srv.URL + "/gone.png"})
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestReSign(t *testing.T) {
	provider := newFakeProvider()
	svc := NewService(testLogger(), provider, 1<<20, time.Second, time.Minute)

	url, err := svc.ReSign(context.Background(), "discord/g1/c1/u1/m1.png")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example.com/discord/g1/c1/u1/m1.png", url)
	assert.Equal(t, 1, provider.signed)
}
