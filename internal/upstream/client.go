// Package upstream speaks the Chat Completions dialect to the backend LLM:
// it assembles wire requests from canonical messages, parses the SSE reply
// stream, and reassembles fragmented tool-call deltas.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/observability"
)

const (
	ssePrefix  = "data: "
	sseDone    = "[DONE]"
	modelsTry  = 3
	modelsWait = 3 * time.Second
)

// Request is one completion call in canonical terms.
type Request struct {
	Model      string
	Messages   []model.Message
	Tools      []model.Tool
	ToolChoice any
	MaxTokens  int
}

// Chunk is one parsed stream delta. ToolCalls carries the partial records
// exactly as received; accumulation is the consumer's concern so streaming
// converters can react to fragments as they arrive.
type Chunk struct {
	Text      string
	ToolCalls []openai.ToolCall
	Err       error
}

// Result is the aggregate of a completed stream.
type Result struct {
	Text      string
	ToolCalls []model.ToolCall
}

// Client sends completion requests through the authenticated transport.
type Client struct {
	cfg     *config.Manager
	auth    *auth.Manager
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewClient(cfg *config.Manager, am *auth.Manager, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, auth: am, logger: logger, metrics: metrics}
}

// Stream starts a streaming completion and returns its parsed chunks. The
// channel is closed after the terminal [DONE] marker or after a chunk whose
// Err is set. Cancelling ctx tears down the upstream connection.
func (c *Client) Stream(ctx context.Context, r Request) (<-chan Chunk, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(c.wireRequest(r))
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	start := time.Now()
	stream, err := c.auth.Stream(ctx, auth.Request{
		Method: http.MethodPost,
		URL:    c.cfg.Get(config.KeyAPIURL),
		Body:   body,
		Header: http.Header{
			"Content-Type":  {"application/json"},
			"Accept":        {"text/event-stream"},
			"Authorization": {"Bearer " + token},
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		defer func() {
			if c.metrics != nil {
				c.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
			}
		}()

		for {
			line, ok := stream.Next()
			if !ok {
				if err := stream.Err(); err != nil {
					select {
					case out <- Chunk{Err: fmt.Errorf("read stream: %w", err)}:
					case <-ctx.Done():
					}
				}
				return
			}
			if !strings.HasPrefix(line, ssePrefix) {
				continue
			}
			payload := strings.TrimSpace(line[len(ssePrefix):])
			if payload == sseDone {
				return
			}

			var resp openai.ChatCompletionStreamResponse
			if err := json.Unmarshal([]byte(payload), &resp); err != nil {
				c.logger.Warn("skipping malformed stream payload", "error", err)
				continue
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			chunk := Chunk{Text: delta.Content, ToolCalls: delta.ToolCalls}
			// Older backends emit a bare function_call; fold it into the
			// tool-call shape at index zero.
			if delta.FunctionCall != nil {
				idx := 0
				chunk.ToolCalls = append(chunk.ToolCalls, openai.ToolCall{
					Index:    &idx,
					Type:     openai.ToolTypeFunction,
					Function: *delta.FunctionCall,
				})
			}
			if chunk.Text == "" && len(chunk.ToolCalls) == 0 {
				continue
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Complete drains a stream internally and returns the aggregate reply.
func (c *Client) Complete(ctx context.Context, r Request) (*Result, error) {
	chunks, err := c.Stream(ctx, r)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	builder := NewToolCallBuilder()
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		text.WriteString(chunk.Text)
		for _, delta := range chunk.ToolCalls {
			builder.Add(delta)
		}
	}
	return &Result{Text: text.String(), ToolCalls: builder.Calls()}, nil
}

// FetchModels lists the models the upstream advertises. The endpoint is
// polled a few times on startup because the backend may still be warming
// up; when no models API is configured (or all attempts fail), the
// configured default model is the list.
func (c *Client) FetchModels(ctx context.Context) ([]string, error) {
	fallback := func() ([]string, error) {
		if name := c.cfg.Get(config.KeyModelName); name != "" {
			return []string{name}, nil
		}
		return nil, fmt.Errorf("no models available and no llm_model_name configured")
	}

	url := c.cfg.Get(config.KeyModelsAPIURL)
	if url == "" {
		return fallback()
	}

	var lastErr error
	for attempt := 1; attempt <= modelsTry; attempt++ {
		models, err := c.fetchModelsOnce(ctx, url)
		if err == nil && len(models) > 0 {
			return models, nil
		}
		lastErr = err
		c.logger.Warn("models fetch failed", "attempt", attempt, "error", err)
		if attempt < modelsTry {
			select {
			case <-time.After(modelsWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	c.logger.Warn("models fetch exhausted, using configured model", "error", lastErr)
	return fallback()
}

func (c *Client) fetchModelsOnce(ctx context.Context, url string) ([]string, error) {
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.auth.Do(ctx, auth.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{"Authorization": {"Bearer " + token}},
		Retry:  true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("models endpoint returned %d", resp.StatusCode)
	}
	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	models := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

// wireRequest renders a canonical request into the Chat Completions shape.
func (c *Client) wireRequest(r Request) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:         r.Model,
		Messages:      WireMessages(r.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: false},
	}
	if r.MaxTokens > 0 {
		req.MaxTokens = r.MaxTokens
	}
	if len(r.Tools) > 0 {
		req.Tools = WireTools(r.Tools)
		if r.ToolChoice != nil {
			req.ToolChoice = r.ToolChoice
		}
	}
	if temp, ok := c.cfg.GetFloat(config.KeyTemperature); ok {
		req.Temperature = float32(temp)
	}
	return req
}

// WireMessages renders canonical messages into Chat Completions records.
func WireMessages(msgs []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		wire := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		if len(m.ToolCalls) > 0 {
			wire.ToolCalls = make([]openai.ToolCall, 0, len(m.ToolCalls))
			for _, call := range m.ToolCalls {
				wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
		}
		if m.Role == model.RoleTool {
			wire.ToolCallID = m.ToolCallID
		}
		out = append(out, wire)
	}
	return out
}

// WireTools renders canonical tool schemas into Chat Completions tools.
func WireTools(tools []model.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
