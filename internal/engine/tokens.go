package engine

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lumenchat/lumen/internal/chat"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// tokenizer returns the shared cl100k_base encoder, or nil when its data
// could not be loaded. The counters below fall back to a bytes/4 estimate
// in that case rather than failing the generation.
func tokenizer() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	return enc
}

func countText(text string) int {
	if t := tokenizer(); t != nil {
		return len(t.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// countMessage estimates a message's token cost, including tool call
// payloads and a small per-message overhead for role framing.
func countMessage(m *chat.Message) int {
	n := 4
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *chat.TextPart:
			n += countText(v.Text)
		case *chat.ReasoningPart:
			n += countText(v.Text)
		case *chat.ToolCallPart:
			n += countText(v.ToolName)
			n += countText(string(v.Input))
			n += countText(string(v.Output))
		case *chat.FilePart:
			n += countText(v.URL) + countText(v.Name)
		}
	}
	return n
}

// trimHistory drops the oldest messages until the rest fits the budget.
// The newest message is always kept, over budget or not, so the model
// never loses the message it is answering.
func trimHistory(history []*chat.Message, budget int) []*chat.Message {
	if len(history) == 0 {
		return history
	}

	total := 0
	counts := make([]int, len(history))
	for i, m := range history {
		counts[i] = countMessage(m)
		total += counts[i]
	}

	start := 0
	for total > budget && start < len(history)-1 {
		total -= counts[start]
		start++
	}
	return history[start:]
}
