package generator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maxp/memexpert/internal/domain"
)

const taggerSystemPrompt = `You are a meme librarian. You look at a meme image and produce short search tags that people would type when looking for it. Tags name the subjects, the emotion, the situation and any recognizable template or character. Reply with a JSON array of strings and nothing else.`

const taggerUserPromptTemplate = `List 5 to 12 search tags for this meme in language %q. Lowercase, no hashtags.`

// TaggerConfig holds configuration for the VLM tagger.
type TaggerConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// VLMTagger implements TagGenerator on an OpenAI-compatible chat completions
// endpoint with image input.
type VLMTagger struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewVLMTagger creates a new VLM-backed tagger.
// Parameters:
//   - cfg: model, credentials, and endpoint configuration.
// Returns:
//   - *VLMTagger: initialized client wrapper.
func NewVLMTagger(cfg *TaggerConfig) *VLMTagger {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &VLMTagger{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// OpenAI-compatible chat completion request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type chatTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatImageContent struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GenerateTags asks the VLM for search tags describing the image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imageData: raw image bytes.
//   - mimeType: MIME type of imageData.
//   - language: language the tags should be written in.
// Returns:
//   - []string: raw tag texts from the model.
//   - error: domain.ErrGeneratorFailure if the API call or parsing fails.
func (t *VLMTagger) GenerateTags(ctx context.Context, imageData []byte, mimeType, language string) ([]string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))

	req := chatRequest{
		Model: t.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: taggerSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					chatTextContent{
						Type: "text",
						Text: fmt.Sprintf(taggerUserPromptTemplate, language),
					},
					chatImageContent{
						Type: "image_url",
						ImageURL: chatImageURL{
							URL:    dataURL,
							Detail: "auto",
						},
					},
				},
			},
		},
		MaxTokens: 300,
	}

	var resp chatResponse
	httpResp, err := t.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(t.endpoint)

	if err != nil {
		return nil, fmt.Errorf("%w: failed to call tagger API: %v", domain.ErrGeneratorFailure, err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return nil, fmt.Errorf("%w: tagger API returned error: %s", domain.ErrGeneratorFailure, errorMsg)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("%w: tagger API error: %s", domain.ErrGeneratorFailure, resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response from tagger API", domain.ErrGeneratorFailure)
	}

	tags := parseTagList(resp.Choices[0].Message.Content)
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: tagger returned no usable tags", domain.ErrGeneratorFailure)
	}
	return tags, nil
}

// parseTagList accepts either a JSON array of strings or a comma-separated
// line, since models drift between the two despite the prompt.
func parseTagList(content string) []string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var tags []string
	if err := json.Unmarshal([]byte(content), &tags); err == nil {
		return cleanTags(tags)
	}
	return cleanTags(strings.Split(content, ","))
}

func cleanTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(strings.Trim(strings.TrimSpace(t), `"'`))
		t = strings.TrimPrefix(t, "#")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
