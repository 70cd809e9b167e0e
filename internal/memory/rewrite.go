package memory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/loreleaf/tierbot/internal/config"
	"github.com/loreleaf/tierbot/internal/llm"
)

const rewritePrompt = `Rewrite the following conversation summary into flowing prose.
Keep every concrete fact, name and event. Do not invent details. Stay under %d tokens.

Summary:
%s`

// Rewriter upgrades the mechanically produced tier-2 stub text with a model
// rewrite. It is fire-and-forget from the message path; a failed rewrite
// leaves the stub in place for the next attempt.
type Rewriter struct {
	client      llm.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewRewriter(client llm.Client, cfg config.RewriteConfig) *Rewriter {
	return &Rewriter{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// RewriteStub rewrites the session's tier-2 text when it is still a stub.
// Returns true when a rewrite was applied.
func (r *Rewriter) RewriteStub(ctx context.Context, session *SessionCoordinator) (bool, error) {
	text, isStub := session.MegaStub()
	if !isStub || strings.TrimSpace(text) == "" {
		return false, nil
	}

	out, err := r.client.Complete(ctx, llm.Request{
		Prompt:      fmt.Sprintf(rewritePrompt, r.maxTokens, text),
		Model:       r.model,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return false, fmt.Errorf("mega rewrite: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return false, nil
	}

	if !session.ReplaceMegaText(text, out) {
		log.Printf("[rewrite] session %s mega summary changed mid-rewrite, result discarded", session.Key)
		return false, nil
	}
	log.Printf("[rewrite] session %s mega summary rewritten (%d chars)", session.Key, len(out))
	return true, nil
}
