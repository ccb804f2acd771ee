// Package respond talks to the OpenRouter chat completions API: single-shot
// generation, SSE streaming and vision analysis.
package respond

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cleverschool/edubot/internal/config"
)

const (
	refererHeader = "https://github.com/cleverschool/edubot"
	titleHeader   = "EduBot"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("respond: empty response")

// Options carries per-call overrides, typically sourced from the school's
// AI config. Zero values fall back to the process defaults.
type Options struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	WebSearchPolicy string
}

type Service struct {
	cfg    config.AIConfig
	logger *slog.Logger

	client          *http.Client
	streamingClient *http.Client
}

func NewService(logger *slog.Logger, cfg config.AIConfig) *Service {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With(slog.String("service", "respond")),
		client: &http.Client{Timeout: timeout},
		// streaming responses outlive the single-shot timeout; the request
		// context bounds them instead
		streamingClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type providerPrefs struct {
	Sort string `json:"sort"`
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Stream      bool           `json:"stream,omitempty"`
	Provider    *providerPrefs `json:"provider,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Service) resolve(message string, opts Options) (model string, temperature float64, maxTokens int) {
	model = opts.Model
	if model == "" {
		model = s.cfg.Model
	}
	policy := opts.WebSearchPolicy
	if policy == "" {
		policy = s.cfg.WebSearchPolicy
	}
	model = RouteModel(model, message, policy)

	temperature = opts.Temperature
	if temperature == 0 {
		temperature = s.cfg.Temperature
	}
	maxTokens = opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.cfg.MaxTokens
	}
	return model, temperature, maxTokens
}

// Generate runs a single-shot completion for the prompt. The message text
// decides web-search routing; the prompt is what the model sees.
func (s *Service) Generate(ctx context.Context, prompt, message string, opts Options) (string, error) {
	model, temperature, maxTokens := s.resolve(message, opts)
	req := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Provider:    &providerPrefs{Sort: "latency"},
	}
	return s.complete(ctx, req)
}

// GenerateVision analyzes an image with a multimodal model. The caller picks
// the model from the user's choice.
func (s *Service) GenerateVision(ctx context.Context, question, imageSignedURL, model string) (string, error) {
	if question == "" {
		question = "Descreve e analisa esta imagem no contexto de uma dúvida de estudo. Responde em português (pt-PT)."
	}
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: question},
				{Type: "image_url", ImageURL: &imageURL{URL: imageSignedURL}},
			},
		}},
		Temperature: s.cfg.Temperature,
		MaxTokens:   1024,
		Provider:    &providerPrefs{Sort: "latency"},
	}
	return s.complete(ctx, req)
}

func (s *Service) complete(ctx context.Context, req chatRequest) (string, error) {
	resp, err := s.post(ctx, s.client, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("respond: upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("respond: upstream error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream runs a streaming completion, emitting raw text deltas on
// the returned channel. The error channel receives at most one error; both
// channels close when the stream ends.
func (s *Service) GenerateStream(ctx context.Context, prompt, message string, opts Options) (<-chan string, <-chan error) {
	chunkCh := make(chan string)
	errCh := make(chan error, 1)

	model, temperature, maxTokens := s.resolve(message, opts)
	req := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
		Provider:    &providerPrefs{Sort: "latency"},
	}

	go func() {
		defer close(chunkCh)
		defer close(errCh)
		if err := s.stream(ctx, req, chunkCh); err != nil {
			s.logger.Error("stream failed",
				slog.String("model", req.Model),
				slog.Any("error", err))
			errCh <- err
		}
	}()
	return chunkCh, errCh
}

func (s *Service) stream(ctx context.Context, req chatRequest, chunkCh chan<- string) error {
	resp, err := s.post(ctx, s.streamingClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("respond: upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			select {
			case chunkCh <- delta:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}

func (s *Service) post(ctx context.Context, client *http.Client, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("HTTP-Referer", refererHeader)
	httpReq.Header.Set("X-Title", titleHeader)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("respond: request failed: %w", err)
	}
	return resp, nil
}
