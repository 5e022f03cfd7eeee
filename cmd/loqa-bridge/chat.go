package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/llm"
	"github.com/loqalabs/loqa-bridge/internal/protocol"
)

type chatError struct {
	Error string `json:"error"`
}

func (c *command) chat(args []string) int {
	var configPath string
	fs := c.flagSet("chat", &configPath)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	b, err := c.start(ctx, configPath)
	if err != nil {
		return c.fatal(err)
	}
	defer b.close()

	raw, err := io.ReadAll(c.stdin)
	if err != nil {
		b.logger.Warn("failed to read stdin", slog.String("error", err.Error()))
	}
	req, err := llm.ParseRequest(raw)
	if errors.Is(err, llm.ErrMissingMessages) {
		c.printJSON(chatError{Error: "Missing messages"})
		return 0
	}

	client := llm.NewClient(b.cfg.Chat, b.apiKey, b.logger)
	result, err := client.Complete(ctx, req)
	if err != nil {
		b.logger.Warn("chat completion failed", slog.String("error", err.Error()))
		c.printJSON(chatError{Error: err.Error()})
		return 0
	}
	c.printJSON(result)

	model := req.Model
	if model == "" {
		model = b.cfg.Chat.Model
	}
	b.rt.Publish(ctx, protocol.SubjectChatResult, protocol.ChatResult{
		Model:     model,
		Text:      result.Text,
		Usage:     result.Usage,
		Timestamp: time.Now().UTC(),
	})
	return 0
}
