package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/pkg/log"
	"golang.org/x/text/language"
)

const systemPrompt = "You are a subtitle translator. Translate each input line into the " +
	"target language. Reply with a JSON array of strings, one translated line per " +
	"input line, same order, same length. Do not merge or split lines."

// Client translates through an OpenAI-compatible chat completion endpoint.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(apiURL, apiKey, model string) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

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
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Translate(ctx context.Context, segments []transcript.Segment, targetLanguage string) ([]transcript.Segment, error) {
	if _, err := language.Parse(targetLanguage); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguagePair, targetLanguage)
	}
	if len(segments) == 0 {
		return segments, nil
	}

	lines := make([]string, len(segments))
	for i, seg := range segments {
		lines[i] = seg.Text
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Target language: %s\nLines:\n%s", targetLanguage, payload)},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("Translation API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
		return nil, fmt.Errorf("translation API status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse translation response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("translation API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("translation API returned no choices")
	}

	translated, err := extractLines(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(translated) != len(segments) {
		return nil, fmt.Errorf("translation line count mismatch: sent %d, got %d", len(segments), len(translated))
	}

	out := make([]transcript.Segment, len(segments))
	for i, seg := range segments {
		out[i] = seg
		out[i].Text = strings.TrimSpace(translated[i])
	}
	return out, nil
}

// extractLines parses the model reply as a JSON string array, tolerating
// markdown code fences around it.
func extractLines(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var lines []string
	if err := json.Unmarshal([]byte(content), &lines); err != nil {
		return nil, fmt.Errorf("translation reply is not a JSON array: %w", err)
	}
	return lines, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
