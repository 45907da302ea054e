// Package ai generates fix proposals for issues with the Anthropic API.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/internal/pipeline"
	"github.com/danielolaszy/autopr/pkg/models"
)

var _ pipeline.SolutionGenerator = (*Generator)(nil)

// DefaultMaxTokens bounds the response when the configuration sets no limit.
const DefaultMaxTokens = 8192

// Generator wraps the Anthropic API for solution generation.
type Generator struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewGenerator creates a Generator from cfg. Extra request options are
// applied after the API key, e.g. option.WithBaseURL in tests. The client
// does not retry failed calls.
func NewGenerator(cfg config.AIConfig, opts ...option.RequestOption) *Generator {
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	reqOpts = append(reqOpts, opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	client := anthropic.NewClient(reqOpts...)
	return &Generator{
		api:       &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
	}
}

const systemPrompt = `You are an expert programmer tasked with fixing a GitHub issue.
Provide a solution that:
1. Explains the root cause of the issue
2. Provides the corrected code
3. Lists all files that need to be modified with their paths
4. Gives a brief explanation for each change

Return ONLY a JSON object with exactly these fields:
{
  "explanation": "A clear explanation of the solution",
  "code": "The main corrected code",
  "filesToModify": [
    {
      "path": "path/to/file.ext",
      "content": "Complete content of the modified file",
      "reason": "Why this file needed to be changed"
    }
  ]
}

Rules:
- "content" must be the complete new content of the file, not a diff or an excerpt
- "path" is relative to the repository root and uses forward slashes
- Include at least one file in "filesToModify"
- Return valid JSON only, no markdown fencing or explanation`

// buildPrompt constructs the system and user prompts for one issue.
func buildPrompt(req models.SolutionRequest) (system string, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GitHub Issue #%d in repository %s\n", req.IssueNumber, req.Repository)
	fmt.Fprintf(&sb, "Title: %s\n", req.IssueTitle)
	fmt.Fprintf(&sb, "Description: %s\n", req.IssueBody)

	if len(req.CodeContext) > 0 {
		paths := make([]string, 0, len(req.CodeContext))
		for p := range req.CodeContext {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		sb.WriteString("\nRelevant code from the repository:\n")
		for _, p := range paths {
			fmt.Fprintf(&sb, "\n--- %s ---\n%s", p, req.CodeContext[p])
			if !strings.HasSuffix(req.CodeContext[p], "\n") {
				sb.WriteString("\n")
			}
		}
	}

	return systemPrompt, sb.String()
}

// Generate asks the model for a proposal. Provider failures and responses
// that do not have the proposal shape are returned as
// *pipeline.GenerationError.
func (g *Generator) Generate(ctx context.Context, req models.SolutionRequest) (*models.SolutionProposal, error) {
	system, user := buildPrompt(req)

	msg, err := g.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, &pipeline.GenerationError{Err: fmt.Errorf("anthropic API call: %w", err)}
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, &pipeline.GenerationError{Err: errors.New("no text content in API response")}
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		return nil, &pipeline.GenerationError{
			Err: fmt.Errorf("response truncated after %d tokens", g.maxTokens),
			Raw: text,
		}
	}

	proposal, err := ParseProposal(text)
	if err != nil {
		return nil, &pipeline.GenerationError{Err: err, Raw: text}
	}
	return proposal, nil
}

// Wire shapes use pointers so that absent fields can be told apart from
// empty ones.
type wireFile struct {
	Path    *string `json:"path"`
	Content *string `json:"content"`
	Reason  *string `json:"reason"`
}

type wireProposal struct {
	Explanation   *string     `json:"explanation"`
	Code          *string     `json:"code"`
	FilesToModify *[]wireFile `json:"filesToModify"`
}

// ParseProposal decodes a model response into a SolutionProposal. The JSON
// object may be wrapped in a markdown fence. Unknown fields, missing fields
// and trailing data are errors.
func ParseProposal(text string) (*models.SolutionProposal, error) {
	payload := extractJSON(text)

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()

	var wire wireProposal
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("parse response as JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse response as JSON: unexpected data after the object")
	}

	switch {
	case wire.Explanation == nil:
		return nil, missingField("explanation")
	case wire.Code == nil:
		return nil, missingField("code")
	case wire.FilesToModify == nil:
		return nil, missingField("filesToModify")
	}

	proposal := &models.SolutionProposal{
		Explanation:   *wire.Explanation,
		Code:          *wire.Code,
		FilesToModify: make([]models.FileChange, 0, len(*wire.FilesToModify)),
	}
	for i, f := range *wire.FilesToModify {
		switch {
		case f.Path == nil:
			return nil, missingField(fmt.Sprintf("filesToModify[%d].path", i))
		case f.Content == nil:
			return nil, missingField(fmt.Sprintf("filesToModify[%d].content", i))
		case f.Reason == nil:
			return nil, missingField(fmt.Sprintf("filesToModify[%d].reason", i))
		}
		proposal.FilesToModify = append(proposal.FilesToModify, models.FileChange{
			Path:    *f.Path,
			Content: *f.Content,
			Reason:  *f.Reason,
		})
	}

	return proposal, nil
}

func missingField(name string) error {
	return fmt.Errorf("response is missing field %q", name)
}

// extractJSON strips a surrounding markdown fence, or takes the first
// ```json block when the object is embedded in prose.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "```") {
		idx := strings.Index(text, "```json")
		if idx < 0 {
			return text
		}
		text = text[idx:]
	}

	lines := strings.SplitN(text, "\n", 2)
	if len(lines) < 2 {
		return text
	}
	body := lines[1]
	if idx := strings.Index(body, "\n```"); idx >= 0 {
		body = body[:idx]
	} else {
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	return strings.TrimSpace(body)
}
