// Package router decides which workflow serves a chat message and runs it.
// A message can need patent research, passage retrieval over the ingested
// document corpus, or both; an unparseable or failed decision falls open to
// both so no question goes unanswered.
package router

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/optichem/lenschat/internal/chatstore"
	"github.com/optichem/lenschat/internal/llm"
	"github.com/optichem/lenschat/internal/retrieval"
)

// Workflow names, also the exact words the decision model must answer with.
const (
	WorkflowPatent = "patent"
	WorkflowPDF    = "pdf"
	WorkflowBoth   = "both"
)

const (
	decisionInstruction = "You are a workflow decision assistant."
	patentInstruction   = "You are a patent research assistant."

	patentUnavailable = "Patent info unavailable due to an error."
	answerUnavailable = "Sorry, I encountered an error while processing your request."
)

// Searcher finds passages relevant to a query. Failures surface as an empty
// result set, never an error.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []retrieval.Passage
}

// Conversation is the slice of the conversation manager the router drives.
type Conversation interface {
	Record(ctx context.Context, conversationID, role, content, username string) (int64, error)
	MaybeCompress(ctx context.Context, conversationID string) error
	AssemblePrompt(ctx context.Context, conversationID, userMessage string, passages []retrieval.Passage) ([]llm.Turn, error)
}

// Result is the outcome of routing one chat message.
type Result struct {
	Response  string
	MessageID int64
}

type Router struct {
	completer    llm.Completer
	searcher     Searcher
	conversation Conversation
	maxPassages  int
	tracer       trace.Tracer
}

func New(completer llm.Completer, searcher Searcher, conversation Conversation, maxPassages int) *Router {
	if maxPassages <= 0 {
		maxPassages = 5
	}
	return &Router{
		completer:    completer,
		searcher:     searcher,
		conversation: conversation,
		maxPassages:  maxPassages,
		tracer:       otel.Tracer("lenschat/router"),
	}
}

// Classify asks the model which workflow fits the message. Any answer other
// than the three known words, and any transport failure, yields "both".
func (r *Router) Classify(ctx context.Context, userMessage string) string {
	ctx, span := r.tracer.Start(ctx, "router.classify")
	defer span.End()

	prompt := "You are an expert in lens formulations and patents. Based on the user's question, decide which workflow to use:\n" +
		"1. Respond with 'patent' if the question is specifically asking for patent information.\n" +
		"2. Respond with 'pdf' if the question requires searching through technical PDF content.\n" +
		"3. Respond with 'both' if the question seems to need both patent info and PDF content.\n\n" +
		"User question: \"" + userMessage + "\"\n\n" +
		"Please reply with just one word: 'patent', 'pdf', or 'both'."

	reply, err := r.completer.Complete(ctx, decisionInstruction, []llm.Turn{{Role: chatstore.RoleUser, Content: prompt}})
	if err != nil {
		log.Printf("router: workflow decision failed: %v", err)
		span.SetAttributes(attribute.String("workflow", WorkflowBoth))
		return WorkflowBoth
	}
	decision := strings.ToLower(strings.TrimSpace(reply))
	switch decision {
	case WorkflowPatent, WorkflowPDF, WorkflowBoth:
	default:
		log.Printf("router: decision %q not recognized, defaulting to both", decision)
		decision = WorkflowBoth
	}
	span.SetAttributes(attribute.String("workflow", decision))
	return decision
}

// Route classifies the message, runs the chosen workflow sections, records
// the exchange, and returns the combined response with the id of the stored
// assistant message.
func (r *Router) Route(ctx context.Context, conversationID, username, userMessage string) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	decision := r.Classify(ctx, userMessage)
	log.Printf("router: workflow decision for %s: %s", conversationID, decision)

	var combined strings.Builder
	if decision == WorkflowPatent || decision == WorkflowBoth {
		combined.WriteString("Patent Information:\n" + r.patentInfo(ctx, userMessage) + "\n\n")
	}
	if decision == WorkflowPDF || decision == WorkflowBoth {
		answer, err := r.answerFromDocuments(ctx, conversationID, username, userMessage)
		if err != nil {
			return Result{}, err
		}
		combined.WriteString("Chat Response:\n" + answer)
	}

	id, err := r.conversation.Record(ctx, conversationID, chatstore.RoleAssistant, combined.String(), username)
	if err != nil {
		return Result{}, fmt.Errorf("record assistant message: %w", err)
	}
	return Result{Response: combined.String(), MessageID: id}, nil
}

// patentInfo runs the patent research prompt, degrading to a fixed notice on
// failure.
func (r *Router) patentInfo(ctx context.Context, userMessage string) string {
	ctx, span := r.tracer.Start(ctx, "router.patent_info")
	defer span.End()

	prompt := "You are a patent research assistant specialized in lens formulations. " +
		"Provide detailed patent information based on the following query:\n" +
		userMessage + "\n\n" +
		"Include relevant patent numbers, filing dates, and a brief summary if available."
	reply, err := r.completer.Complete(ctx, patentInstruction, []llm.Turn{{Role: chatstore.RoleUser, Content: prompt}})
	if err != nil {
		log.Printf("router: patent info failed: %v", err)
		return patentUnavailable
	}
	return strings.TrimSpace(reply)
}

// answerFromDocuments runs the retrieval workflow: search the corpus, record
// the user turn, compress history if due, and generate the grounded answer.
// Only store failures return an error; a failed generation call degrades to
// a fixed apology so the exchange still completes.
func (r *Router) answerFromDocuments(ctx context.Context, conversationID, username, userMessage string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "router.answer_from_documents")
	defer span.End()

	passages := r.searcher.Search(ctx, userMessage, r.maxPassages)
	span.SetAttributes(attribute.Int("passages.count", len(passages)))

	if _, err := r.conversation.Record(ctx, conversationID, chatstore.RoleUser, userMessage, username); err != nil {
		return "", fmt.Errorf("record user message: %w", err)
	}
	if err := r.conversation.MaybeCompress(ctx, conversationID); err != nil {
		return "", err
	}

	turns, err := r.conversation.AssemblePrompt(ctx, conversationID, userMessage, passages)
	if err != nil {
		return "", err
	}
	answer, err := r.completer.Complete(ctx, "", turns)
	if err != nil {
		log.Printf("router: answer generation failed for %s: %v", conversationID, err)
		answer = answerUnavailable
	} else {
		answer = strings.TrimSpace(answer)
	}

	if len(passages) > 0 {
		refs := make([]string, 0, len(passages))
		for _, p := range passages {
			refs = append(refs, fmt.Sprintf("%s (PDF: %s) - Excerpt: \"%s\"", p.Citation, p.DocumentName, p.Text))
		}
		answer += "\n\n" + "\n\nReferences (APA format):\n" + strings.Join(refs, "\n")
	}
	return answer, nil
}
