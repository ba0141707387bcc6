package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiProvider serves OpenAI and any backend speaking the same chat
// completions API behind a different base URL (OpenRouter and friends).
type openaiProvider struct {
	name   string
	client openai.Client
}

func newOpenAIProvider(name, apiKey, baseURL string) *openaiProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiProvider{
		name:   name,
		client: openai.NewClient(opts...),
	}
}

func (p *openaiProvider) Name() string {
	return p.name
}

func (p *openaiProvider) Call(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return nil, &callError{err: fmt.Errorf("unsupported message role: %q", msg.Role)}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	// top_k is not part of the standard chat completions schema; backends
	// that understand it (OpenRouter) accept it as an extra body field.
	var callOpts []option.RequestOption
	if req.TopK != nil {
		callOpts = append(callOpts, option.WithJSONSet("top_k", *req.TopK))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &callError{err: errors.New("response has no choices")}
	}

	choice := resp.Choices[0]
	return &Response{
		Content:   choice.Message.Content,
		Reasoning: openaiReasoning(choice),
	}, nil
}

// openaiReasoning pulls a reasoning trace out of the non-standard fields some
// gateways attach to the choice message (OpenRouter uses "reasoning",
// DeepSeek-style backends "reasoning_content").
func openaiReasoning(choice openai.ChatCompletionChoice) string {
	for _, key := range []string{"reasoning", "reasoning_content"} {
		field, ok := choice.Message.JSON.ExtraFields[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal([]byte(field.Raw()), &text); err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}

func wrapOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		ce := &callError{status: apierr.StatusCode, body: apierr.RawJSON(), err: err}
		if apierr.Response != nil {
			ce.retryAfter = parseRetryAfter(apierr.Response.Header.Get("Retry-After"))
		}
		return ce
	}
	return &callError{err: err}
}
