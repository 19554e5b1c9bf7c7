package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAITranslator struct {
	client      *openai.Client
	model       string
	temperature float64
}

func NewOpenAITranslator(cfg OpenAIConfig) (*OpenAITranslator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAITranslator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: float32(t.temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("empty chat completion choices")
	}

	result, ok := decodeResult(resp.Choices[0].Message.Content)
	if !ok {
		return Result{}, fmt.Errorf("model returned empty SQL")
	}
	return result, nil
}

const systemPrompt = "You convert natural language questions into a single read-only PostgreSQL query " +
	"and choose the best visualization for the result. " +
	"Respond with ONLY a JSON object of this shape, no markdown, no extra text:\n" +
	`{"sql": "...", "visualization_type": "...", "chat_title": "...", "reasoning": "..."}` + "\n" +
	"visualization_type must be one of: table, bar, pie, timeseries, scatter, ranking.\n" +
	"Selection rules:\n" +
	"- categories plus numeric values -> bar\n" +
	"- share-of-whole with at most 8 categories -> pie\n" +
	"- date/time plus values -> timeseries\n" +
	"- top/best/ranking phrasing -> ranking\n" +
	"- two numeric columns -> scatter\n" +
	"- otherwise -> table\n" +
	"chat_title is a short 2-4 word summary of the question."

func userPrompt(req Request) string {
	return fmt.Sprintf(
		"Database schema:\n%s\nQuestion: %q\n\nRules:\n- Use only listed tables and columns.\n- Output exactly one SELECT statement in the sql field.",
		req.Schema,
		strings.TrimSpace(req.Question),
	)
}
