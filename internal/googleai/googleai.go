// Package googleai adapts the Gemini API to the engine's Runner and to
// the vector stores' Embedder.
package googleai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/engine"
	"github.com/lumenchat/lumen/internal/log"
)

// Runner streams Gemini completions.
type Runner struct {
	client *genai.Client
	model  string
	logger log.Logger
}

// NewRunner creates a Runner for the given model.
func NewRunner(ctx context.Context, apiKey, model string, logger log.Logger) (*Runner, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Runner{client: client, model: model, logger: logger}, nil
}

// Stream implements engine.Runner.
func (r *Runner) Stream(ctx context.Context, req engine.Request, emit func(engine.Chunk) error) error {
	contents, err := buildContents(req)
	if err != nil {
		return err
	}

	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	for resp, err := range r.client.Models.GenerateContentStream(ctx, r.model, contents, config) {
		if err != nil {
			return fmt.Errorf("streaming completion: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			chunk, err := toChunk(part)
			if err != nil {
				return err
			}
			if chunk == nil {
				continue
			}
			if err := emit(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

// Complete implements engine.Runner.
func (r *Runner) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	return resp.Text(), nil
}

func toChunk(part *genai.Part) (engine.Chunk, error) {
	switch {
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return nil, fmt.Errorf("encoding function call args: %w", err)
		}
		id := part.FunctionCall.ID
		if id == "" {
			// Gemini does not always assign call IDs.
			id = uuid.NewString()
		}
		return engine.ToolCallChunk{ID: id, Name: part.FunctionCall.Name, Args: args}, nil
	case part.Thought && part.Text != "":
		return engine.ReasoningChunk{Text: part.Text}, nil
	case part.Text != "":
		return engine.TextChunk{Text: part.Text}, nil
	}
	return nil, nil
}

// buildContents converts the conversation and prior-turn tool results into
// Gemini contents. Tool results ride in a trailing user-role content with
// function response parts, which is how the API expects them back.
func buildContents(req engine.Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		c, err := toContent(m)
		if err != nil {
			return nil, err
		}
		if c != nil {
			contents = append(contents, c)
		}
	}

	if len(req.ToolResults) > 0 {
		parts := make([]*genai.Part, 0, len(req.ToolResults))
		for _, res := range req.ToolResults {
			response, err := toResponseMap(res.Output)
			if err != nil {
				return nil, fmt.Errorf("decoding output of tool %s: %w", res.Name, err)
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       res.ID,
				Name:     res.Name,
				Response: response,
			}})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}
	return contents, nil
}

func toContent(m *chat.Message) (*genai.Content, error) {
	role := genai.RoleUser
	if m.Role == chat.RoleAssistant {
		role = genai.RoleModel
	}

	parts := make([]*genai.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *chat.TextPart:
			if v.Text != "" {
				parts = append(parts, &genai.Part{Text: v.Text})
			}
		case *chat.ReasoningPart:
			// Thinking is not replayed to the model.
		case *chat.FilePart:
			parts = append(parts, &genai.Part{FileData: &genai.FileData{
				FileURI:  v.URL,
				MIMEType: v.MediaType,
			}})
		case *chat.ToolCallPart:
			args := map[string]any{}
			if len(v.Input) > 0 {
				if err := json.Unmarshal(v.Input, &args); err != nil {
					return nil, fmt.Errorf("decoding input of tool call %s: %w", v.ToolCallID, err)
				}
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   v.ToolCallID,
				Name: v.ToolName,
				Args: args,
			}})
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &genai.Content{Role: role, Parts: parts}, nil
}

// toResponseMap shapes a tool's raw JSON output into the map the API
// wants. Non-object payloads are wrapped under a "result" key.
func toResponseMap(output json.RawMessage) (map[string]any, error) {
	if len(output) == 0 {
		return map[string]any{}, nil
	}
	var asMap map[string]any
	if err := json.Unmarshal(output, &asMap); err == nil {
		return asMap, nil
	}
	var asAny any
	if err := json.Unmarshal(output, &asAny); err != nil {
		return nil, err
	}
	return map[string]any{"result": asAny}, nil
}
