package translate

import (
	"strings"

	"github.com/google/uuid"

	"messagebridge/internal/wire/foreign"
	"messagebridge/internal/wire/native"
)

// ToNativeReply converts a complete (non-streaming) foreign chat completion
// into a native Anthropic Messages reply, per spec.md §4.4.
func ToNativeReply(resp *foreign.ChatResponse, model string) (*native.Reply, error) {
	var (
		content     []native.ReplyBlock
		sawToolCall bool
		finishRaw   string
	)

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			content = append(content, native.ReplyBlock{Type: "text", Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			sawToolCall = true
			content = append(content, native.ReplyBlock{
				Type:  "tool_use",
				ID:    toolCallID(tc.ID),
				Name:  tc.Function.Name,
				Input: rawOrEmptyObject(tc.Function.Arguments),
			})
		}
		if choice.FinishReason != nil {
			finishRaw = *choice.FinishReason
		}
	}

	id := messageID(resp.ID)

	var usage native.Usage
	if resp.Usage != nil {
		usage = native.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return &native.Reply{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: nativeFinishReason(finishRaw, sawToolCall),
		Usage:      usage,
	}, nil
}

func messageID(foreignID string) string {
	if foreignID == "" {
		return "msg_" + uuid.NewString()
	}
	return "msg_" + strings.TrimPrefix(foreignID, "chatcmpl-")
}

func toolCallID(foreignID string) string {
	if foreignID == "" {
		return "toolu_" + uuid.NewString()
	}
	return foreignID
}

func rawOrEmptyObject(s string) []byte {
	if s == "" {
		return []byte("{}")
	}
	return []byte(s)
}
