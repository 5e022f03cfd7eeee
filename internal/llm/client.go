package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	chunkPrefix = "data:"
	endMessage  = "[DONE]"
)

// Client streams chat completions from an OpenAI-compatible endpoint.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewClient(cfg config.ChatConfig, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return operation + " " + r.URL.Path
				}),
			),
		},
		logger: logger.With(slog.String("component", "llm")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-bridge/internal/llm"),
	}
}

type completionRequest struct {
	Model         string            `json:"model"`
	Messages      []json.RawMessage `json:"messages"`
	Modalities    []string          `json:"modalities"`
	Stream        bool              `json:"stream"`
	StreamOptions streamOptions     `json:"stream_options"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// Complete runs a streamed completion and joins the content deltas.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	var sb strings.Builder
	usage, err := c.Generate(ctx, req, func(chunk Chunk) error {
		sb.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: strings.TrimSpace(sb.String()), Usage: usage}, nil
}

// Generate streams content deltas to consumer and returns the trailing usage
// object, if the service sent one.
func (c *Client) Generate(ctx context.Context, req Request, consumer func(Chunk) error) (json.RawMessage, error) {
	if len(req.Messages) == 0 {
		return nil, ErrMissingMessages
	}
	model := coalesce(req.Model, c.model)
	baseURL := strings.TrimRight(coalesce(req.BaseURL, c.baseURL), "/")

	ctx, span := c.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("request.model", model),
		attribute.Int("request.messages", len(req.Messages)),
	))
	defer span.End()
	fail := func(err error) (json.RawMessage, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, err := json.Marshal(completionRequest{
		Model:         model,
		Messages:      req.Messages,
		Modalities:    []string{"text"},
		Stream:        true,
		StreamOptions: streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return fail(fmt.Errorf("marshal chat request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("create chat request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(fmt.Errorf("send chat request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(fmt.Errorf("chat endpoint returned status %s: %s", resp.Status, strings.TrimSpace(string(detail))))
	}

	var usage json.RawMessage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, chunkPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, chunkPrefix))
		if payload == "" {
			continue
		}
		if payload == endMessage {
			break
		}
		var chunk streamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", slog.String("error", err.Error()))
			continue
		}
		if len(chunk.Choices) > 0 {
			if content := chunk.Choices[0].Delta.Content; content != "" {
				if err := consumer(Chunk{Content: content}); err != nil {
					return fail(err)
				}
			}
			continue
		}
		if len(chunk.Usage) > 0 && string(chunk.Usage) != "null" {
			usage = chunk.Usage
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("read chat stream: %w", err))
	}
	c.logger.Debug("chat completion finished", slog.String("model", model), slog.Duration("latency", time.Since(start)))
	return usage, nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
