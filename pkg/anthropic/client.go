// Package anthropic wraps the Messages API behind the small surface lead
// enrichment needs.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// StopMaxTokens is the stop reason of a response cut off by MaxTokens.
const StopMaxTokens = "max_tokens"

// Client defines the Anthropic API operations used for lead enrichment.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is one single-turn request.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheSystem puts a one-hour cache breakpoint on the system prompt.
	// Every chunk of a run sends the same instructions.
	CacheSystem bool
	Messages    []Message
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is the part of a reply enrichment reads.
type MessageResponse struct {
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      Usage
}

// Text returns the concatenated text blocks of the response.
func (r *MessageResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Truncated reports whether the reply stopped at the token limit.
func (r *MessageResponse) Truncated() bool {
	return r.StopReason == StopMaxTokens
}

// ContentBlock represents a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// Usage is the token accounting of one response.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Fields returns the usage as log fields.
func (u Usage) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheWriteTokens),
		zap.Int64("cache_read_tokens", u.CacheReadTokens),
	}
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK. Extra request
// options (base URL, retries) are passed through to the SDK.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		block := sdk.TextBlockParam{Text: req.System}
		if req.CacheSystem {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL("1h")
			block.CacheControl = cc
		}
		params.System = []sdk.TextBlockParam{block}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		Model:      string(msg.Model),
		Content:    make([]ContentBlock, 0, len(msg.Content)),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}
