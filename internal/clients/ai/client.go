package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/domain"
)

// Client summarizes articles through an OpenAI-compatible chat-completions
// endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a chat-completions summarizer.
func NewClient(baseURL, apiKey, model string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.With().Str("client", "ai").Logger(),
	}
}

const systemPrompt = "You summarize financial news. Reply with a JSON array of " +
	"strings, one single-sentence summary per numbered article, in the same order. " +
	"No markdown, no commentary."

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize asks the model for one summary per article. It returns an error
// when the response is missing, unparseable, or has the wrong length; callers
// are expected to fall back to the deterministic summarizer.
func (c *Client) Summarize(ctx context.Context, articles []domain.Article) ([]string, error) {
	if len(articles) == 0 {
		return []string{}, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Summarize each article in one sentence:\n")
	for i, a := range articles {
		fmt.Fprintf(&prompt, "%d. %s (%s)\n", i+1, a.Title, a.Source)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai: API returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ai: parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("ai: response has no choices")
	}

	summaries, err := parseSummaries(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(summaries) != len(articles) {
		return nil, fmt.Errorf("ai: expected %d summaries, got %d", len(articles), len(summaries))
	}

	c.log.Debug().Int("articles", len(articles)).Msg("Summarized articles")
	return summaries, nil
}

// parseSummaries extracts the JSON string array from the model output,
// tolerating code fences around it.
func parseSummaries(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var summaries []string
	if err := json.Unmarshal([]byte(content), &summaries); err != nil {
		return nil, fmt.Errorf("ai: model output is not a JSON string array: %w", err)
	}
	return summaries, nil
}
