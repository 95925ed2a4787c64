// Package conversation maintains per-conversation message history and keeps
// the model prompt bounded: old turns are compressed into a rolling summary
// and only a small recency window travels with each query.
package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/optichem/lenschat/internal/chatstore"
	"github.com/optichem/lenschat/internal/llm"
	"github.com/optichem/lenschat/internal/retrieval"
)

const (
	// systemInstruction opens every assembled prompt.
	systemInstruction = "You are a helpful AI assistant specializing in lens formulations, chemistry, optics, and AI-driven research analysis. Focus on the most relevant details."

	summarizerInstruction = "You are a summarization engine."

	// summaryUnavailable is written when the summarization call fails; the
	// conversation keeps going with a placeholder rather than an error.
	summaryUnavailable = "Summary unavailable."

	// recencyWindow is how many recent non-summary turns each prompt carries.
	recencyWindow = 5

	summaryUsername = "system"
)

// HistoryStore is the slice of the conversation store the manager needs.
type HistoryStore interface {
	Insert(ctx context.Context, m chatstore.Message) (int64, error)
	NonSummaryHistory(ctx context.Context, conversationID string) ([]chatstore.Message, error)
	LatestSummary(ctx context.Context, conversationID string) (*chatstore.Message, error)
}

type Manager struct {
	store     HistoryStore
	completer llm.Completer
	threshold int
}

// NewManager builds a manager that compresses history when the non-summary
// message count exceeds threshold (default 20).
func NewManager(store HistoryStore, completer llm.Completer, threshold int) *Manager {
	if threshold <= 0 {
		threshold = 20
	}
	return &Manager{store: store, completer: completer, threshold: threshold}
}

// Record appends one message with the current timestamp and returns its id.
func (m *Manager) Record(ctx context.Context, conversationID, role, content, username string) (int64, error) {
	return m.store.Insert(ctx, chatstore.Message{
		ConversationID: conversationID,
		Username:       username,
		Role:           role,
		Content:        content,
	})
}

// MaybeCompress writes a new summary message when the conversation has grown
// past the history threshold. At or under the threshold it is a no-op. A
// failed summarization call degrades to a placeholder summary; only store
// failures propagate.
func (m *Manager) MaybeCompress(ctx context.Context, conversationID string) error {
	history, err := m.store.NonSummaryHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) <= m.threshold {
		return nil
	}

	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, msg.Role+": "+msg.Content)
	}
	prompt := "The following is a conversation history:\n\n" +
		strings.Join(lines, "\n") +
		"\n\nPlease provide a concise summary that captures the key points of the conversation."

	summary, err := m.completer.Complete(ctx, summarizerInstruction, []llm.Turn{{Role: chatstore.RoleUser, Content: prompt}})
	if err != nil {
		log.Printf("conversation: summarization failed for %s: %v", conversationID, err)
		summary = summaryUnavailable
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = summaryUnavailable
	}

	if _, err := m.store.Insert(ctx, chatstore.Message{
		ConversationID: conversationID,
		Username:       summaryUsername,
		Role:           chatstore.RoleSummary,
		Content:        summary,
	}); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	log.Printf("conversation: summary updated for %s", conversationID)
	return nil
}

// AssemblePrompt builds the ordered turn list for answer generation: one
// fixed system instruction, the active summary if any, the last five
// non-summary turns in chronological order, and a final user turn combining
// the question with the retrieved passages.
func (m *Manager) AssemblePrompt(ctx context.Context, conversationID, userMessage string, passages []retrieval.Passage) ([]llm.Turn, error) {
	turns := []llm.Turn{{Role: chatstore.RoleSystem, Content: systemInstruction}}

	summary, err := m.store.LatestSummary(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	if summary != nil {
		turns = append(turns, llm.Turn{Role: chatstore.RoleSystem, Content: "Context summary: " + summary.Content})
	}

	history, err := m.store.NonSummaryHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(history) > recencyWindow {
		history = history[len(history)-recencyWindow:]
	}
	for _, msg := range history {
		turns = append(turns, llm.Turn{Role: msg.Role, Content: msg.Content})
	}

	turns = append(turns, llm.Turn{Role: chatstore.RoleUser, Content: userMessage + "\n\nRelevant paragraphs:\n" + RenderPassages(passages)})
	return turns, nil
}

// RenderPassages formats retrieved passages for the prompt, one source
// attribution per passage, joined by blank lines.
func RenderPassages(passages []retrieval.Passage) string {
	rendered := make([]string, 0, len(passages))
	for _, p := range passages {
		rendered = append(rendered, fmt.Sprintf("%s (Source: %s, PDF: %s)", p.Text, p.Citation, p.DocumentName))
	}
	return strings.Join(rendered, "\n\n")
}
