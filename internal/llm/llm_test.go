package llm

import (
	"testing"
)

func TestBackoffDelay(t *testing.T) {
	if backoffDelay(1).Seconds() != 1 {
		t.Fatal("attempt 1 should be 1s")
	}
	if backoffDelay(2).Seconds() != 2 {
		t.Fatal("attempt 2 should be 2s")
	}
}

func TestClassifyTransportError(t *testing.T) {
	if got := classifyTransportError(assertErr("status code: 429 too many requests")); got != failureRateLimit {
		t.Fatalf("expected rate limit classification, got %v", got)
	}
	if got := classifyTransportError(assertErr("status code: 400 bad request")); got != failureClient {
		t.Fatalf("expected client classification, got %v", got)
	}
	if got := classifyTransportError(assertErr("status code: 503 unavailable")); got != failureServer {
		t.Fatalf("expected server classification, got %v", got)
	}
	if got := classifyTransportError(assertErr("connection reset")); got != failureServer {
		t.Fatalf("expected default server classification, got %v", got)
	}
}

func TestBuildMessagesRoleMapping(t *testing.T) {
	msgs := buildMessages([]Turn{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
		{Role: "system", Content: "context"},
	})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" || msgs[2].Role != "user" {
		t.Fatalf("unexpected roles: %s, %s, %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
}

func TestNewAnthropicCompleterRequiresKey(t *testing.T) {
	if _, err := NewAnthropicCompleter("  ", "", 0); err == nil {
		t.Fatal("expected error without api key")
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
