package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"messagebridge/internal/wire/foreign"
	"messagebridge/internal/wire/native"
)

// ModelMapping resolves a native model family name to the upstream model the
// translated request should target. Keys are "sonnet", "opus", "haiku"; a
// model whose lower-cased name contains none of those substrings passes
// through unchanged (spec.md §4.2 step 5).
type ModelMapping struct {
	Sonnet, Opus, Haiku string
	// Default is substituted when the inbound request has no model at all.
	Default string
}

// RequestOptions configures ToForeignRequest beyond the wire-level fields
// carried on the native request itself.
type RequestOptions struct {
	Models ModelMapping
	// BlockedTools is the set of tool names dropped before translation
	// (spec.md §4.2 step 4). Defaults to {"BatchTool"} when nil.
	BlockedTools map[string]bool
}

var defaultBlockedTools = map[string]bool{"BatchTool": true}

// ToForeignRequest implements the Request Translator (spec.md §4.2): it maps
// a native Anthropic Messages request into an OpenAI-compatible chat
// completions request.
func ToForeignRequest(ctx context.Context, req *native.Request, opts RequestOptions) (*foreign.ChatRequest, error) {
	blocked := opts.BlockedTools
	if blocked == nil {
		blocked = defaultBlockedTools
	}

	var messages []foreign.ChatMessage

	if sysBlocks, ok := req.SystemBlocks(); ok {
		for _, block := range sysBlocks {
			text := block.Text
			if text == "" {
				text = block.Content
			}
			if text == "" {
				continue
			}
			messages = append(messages, foreign.ChatMessage{Role: "system", Content: text})
		}
	} else if sysText, ok := req.SystemString(); ok && sysText != "" {
		messages = append(messages, foreign.ChatMessage{Role: "system", Content: sysText})
	}

	for _, m := range req.Messages {
		converted, results, err := convertMessage(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("translate message with role %q: %w", m.Role, err)
		}
		if converted != nil {
			messages = append(messages, *converted)
		}
		messages = append(messages, results...)
	}

	tools, err := convertTools(req.Tools, blocked)
	if err != nil {
		return nil, err
	}

	temperature := req.Temperature
	if temperature == nil {
		def := 1.0
		temperature = &def
	}

	model := resolveModel(req.Model, opts.Models)

	out := &foreign.ChatRequest{
		Model:       model,
		Messages:    messages,
		Tools:       tools,
		Temperature: temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = &req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	return out, nil
}

// convertMessage returns the main translated message (nil if content and
// tool_calls both ended up empty) plus zero or more trailing tool-result
// messages, per spec.md §4.2 step 3.
func convertMessage(ctx context.Context, m native.Message) (*foreign.ChatMessage, []foreign.ChatMessage, error) {
	blocks, isBlocks := m.ContentBlocks()

	if !isBlocks {
		text, _ := m.TextContent()
		if text == "" {
			return nil, nil, nil
		}
		return &foreign.ChatMessage{Role: m.Role, Content: text}, nil, nil
	}

	var (
		textParts []string
		toolCalls []foreign.ToolCall
		results   []foreign.ChatMessage
	)

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			toolCalls = append(toolCalls, foreign.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: foreign.ToolCallFunction{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case "tool_result":
			if block.ToolUseID == "" {
				slog.WarnContext(ctx, "dropping tool_result with no tool_use_id")
				continue
			}
			results = append(results, foreign.ChatMessage{
				Role:       "tool",
				Content:    block.ToolResultText(),
				ToolCallID: block.ToolUseID,
			})
		}
	}

	text := strings.Join(textParts, " ")

	var main *foreign.ChatMessage
	if text != "" || len(toolCalls) > 0 {
		main = &foreign.ChatMessage{Role: m.Role, Content: text, ToolCalls: toolCalls}
	}
	return main, results, nil
}

func convertTools(tools []native.Tool, blocked map[string]bool) ([]foreign.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]foreign.Tool, 0, len(tools))
	for _, t := range tools {
		if blocked[t.Name] {
			continue
		}
		var schema any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("decode input_schema for tool %q: %w", t.Name, err)
			}
			schema = CleanSchema(schema)
		}
		params, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("re-encode cleaned schema for tool %q: %w", t.Name, err)
		}
		out = append(out, foreign.Tool{
			Type: "function",
			Function: foreign.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

// resolveModel implements spec.md §4.2 step 5.
func resolveModel(model string, mapping ModelMapping) string {
	if model == "" {
		return mapping.Default
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "sonnet") && mapping.Sonnet != "":
		return mapping.Sonnet
	case strings.Contains(lower, "opus") && mapping.Opus != "":
		return mapping.Opus
	case strings.Contains(lower, "haiku") && mapping.Haiku != "":
		return mapping.Haiku
	default:
		return model
	}
}
