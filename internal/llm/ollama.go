package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultOllamaHost = "http://localhost:11434"

// ollamaProvider talks to a local Ollama server, so text never leaves the host.
type ollamaProvider struct {
	model   string
	baseURL string
}

// NewOllamaProvider returns a provider for an Ollama server at baseURL.
func NewOllamaProvider(baseURL, model string) Provider {
	return &ollamaProvider{model: model, baseURL: baseURL}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

func (p *ollamaProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	const name = "ollama"
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	var messages []ollamaMessage
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	bodyBytes, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return nil, completionErr(name, 0, "marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, completionErr(name, 0, "creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, completionErr(name, 0, "HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	const maxBodyBytes = 10 << 20 // 10 MiB
	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, completionErr(name, resp.StatusCode, "reading response body: %w", err)
	}

	var or ollamaResponse
	if err := json.Unmarshal(respBytes, &or); err != nil {
		return nil, completionErr(name, resp.StatusCode, "parsing response JSON (body: %s): %w", bodySnippet(respBytes), err)
	}
	if resp.StatusCode != http.StatusOK {
		if or.Error != "" {
			return nil, completionErr(name, resp.StatusCode, "%s", or.Error)
		}
		return nil, completionErr(name, resp.StatusCode, "%s", bodySnippet(respBytes))
	}
	if !or.Done {
		return nil, completionErr(name, resp.StatusCode, "response not marked done")
	}

	return &Response{
		Content: or.Message.Content,
		Model:   fmt.Sprintf("ollama:%s", or.Model),
	}, nil
}
