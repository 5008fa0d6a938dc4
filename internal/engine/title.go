package engine

import (
	"context"
	"fmt"
	"strings"
)

const titlePromptFmt = `Write a short title (at most 6 words) for a conversation that starts with the message below. Reply with the title only, no quotes, no punctuation at the end.

Message:
%s`

const maxTitleLen = 80

// GenerateTitle names a chat from its first user message. The result is a
// single trimmed line; an empty result is an error so callers can keep the
// chat untitled instead of storing blank text.
func (e *Engine) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	raw, err := e.runner.Complete(ctx, fmt.Sprintf(titlePromptFmt, firstMessage))
	if err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}

	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "", fmt.Errorf("model returned empty title")
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return title, nil
}
