package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/model"
	"google.golang.org/genai"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Complete performs one structured completion with tool support.
func (p *Provider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	slog.Debug("Gemini.Complete", "model", req.Model, "messageCount", len(req.Messages))

	config := &genai.GenerateContentConfig{
		Tools: convertTools(req.Tools),
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}

	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var fullText strings.Builder
	var toolCalls []model.ToolCall
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				fullText.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				fc := part.FunctionCall
				id := fc.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				toolCalls = append(toolCalls, model.ToolCall{
					ID:    id,
					Name:  fc.Name,
					Input: fc.Args,
				})
			}
		}
	}

	return &model.Response{
		Text:      fullText.String(),
		ToolCalls: toolCalls,
	}, nil
}

// StreamText performs an incremental plain-text completion.
func (p *Provider) StreamText(ctx context.Context, modelName, prompt string) iter.Seq2[string, error] {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	return func(yield func(string, error) bool) {
		for resp, err := range p.client.Models.GenerateContentStream(ctx, modelName, contents, nil) {
			if err != nil {
				yield("", err)
				return
			}
			if resp == nil {
				continue
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						if !yield(part.Text, nil) {
							return
						}
					}
				}
			}
		}
	}
}

// convertMessages translates provider-neutral messages into genai contents.
// Tool roles map to "user" contents carrying function responses; the name
// for each response is recovered from the call that preceded it.
func convertMessages(messages []model.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	toolNameByID := make(map[string]string)

	for _, msg := range messages {
		var parts []*genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case model.ContentTypeText:
				parts = append(parts, &genai.Part{Text: c.Text})
			case model.ContentTypeToolCall:
				if c.ToolCall == nil {
					continue
				}
				toolNameByID[c.ToolCall.ID] = c.ToolCall.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   c.ToolCall.ID,
						Name: c.ToolCall.Name,
						Args: c.ToolCall.Input,
					},
				})
			case model.ContentTypeToolResult:
				if c.ToolResult == nil {
					continue
				}
				name := toolNameByID[c.ToolResult.ToolCallID]
				if name == "" {
					return nil, fmt.Errorf("tool result %s has no matching call", c.ToolResult.ToolCallID)
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:   c.ToolResult.ToolCallID,
						Name: name,
						Response: map[string]any{
							"result": c.ToolResult.Content,
						},
					},
				})
			}
		}

		if len(parts) == 0 {
			continue
		}
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func convertTools(tools []model.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchema(s *model.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Items:       convertSchema(s.Items),
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	default:
		out.Type = genai.TypeString
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	return out
}
