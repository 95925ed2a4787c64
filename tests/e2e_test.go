//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/optichem/lenschat/internal/blob"
	"github.com/optichem/lenschat/internal/chatstore"
	"github.com/optichem/lenschat/internal/conversation"
	"github.com/optichem/lenschat/internal/docstore"
	"github.com/optichem/lenschat/internal/export"
	"github.com/optichem/lenschat/internal/extract"
	"github.com/optichem/lenschat/internal/httpapi"
	"github.com/optichem/lenschat/internal/ingest"
	"github.com/optichem/lenschat/internal/llm"
	"github.com/optichem/lenschat/internal/retrieval"
	"github.com/optichem/lenschat/internal/router"
	"github.com/optichem/lenschat/internal/userstore"
)

// scriptedCompleter stands in for the model: the decision call gets "pdf",
// everything else gets a fixed grounded answer.
type scriptedCompleter struct{}

func (scriptedCompleter) Complete(ctx context.Context, system string, turns []llm.Turn) (string, error) {
	if system == "You are a workflow decision assistant." {
		return "pdf", nil
	}
	return "Anti-reflective coatings cut glare by destructive interference.", nil
}

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	return []byte("%PDF-stub"), nil
}

func TestE2EChatOverIngestedDocuments(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// --- 1. Stub document-understanding service ---
	extractor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "Anti-glare coating formulations.\n\nSpin coating at 1200 rpm gives uniform films.",
			"metadata": map[string]string{
				"Author":          "Smith",
				"Title":           "LensCoating",
				"PublicationDate": "2020",
				"Publisher":       "AcmeOptics",
			},
		})
	}))
	defer extractor.Close()

	// --- 2. Seed the document directory and run ingestion ---
	docDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(docDir, "Smith_2020_LensCoating_AcmeOptics.pdf"), []byte("%PDF-1.0 stub"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	dataDir := t.TempDir()
	docs, err := docstore.Open(filepath.Join(dataDir, "pdf_cache.db"))
	if err != nil {
		t.Fatalf("open doc store: %v", err)
	}
	defer docs.Close()

	pipeline := ingest.NewPipeline(
		blob.NewDirStore(docDir),
		extract.NewHTTPAnalyzer(extractor.URL, "test-key", 10*time.Second),
		docs,
		ingest.Config{Workers: 2, BatchSize: 10},
	)
	if err := pipeline.Run(ctx, 100); err != nil {
		t.Fatalf("ingestion: %v", err)
	}
	if n, err := docs.Count(ctx); err != nil || n != 1 {
		t.Fatalf("cache count = %d (%v), want 1", n, err)
	}

	// --- 3. Bring up the full chat server ---
	chats, err := chatstore.Open(filepath.Join(dataDir, "chat_history.db"))
	if err != nil {
		t.Fatalf("open chat store: %v", err)
	}
	defer chats.Close()
	users, err := userstore.Open(filepath.Join(dataDir, "user_data.db"))
	if err != nil {
		t.Fatalf("open user store: %v", err)
	}
	defer users.Close()

	completer := scriptedCompleter{}
	manager := conversation.NewManager(chats, completer, 20)
	chatRouter := router.New(completer, retrieval.NewRetriever(docs), manager, 5)
	handler := httpapi.NewServer(chats, docs, users, chatRouter, export.New(stubRenderer{}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer srv.Close()
	baseURL := "http://" + ln.Addr().String()
	t.Logf("chat server running at %s", baseURL)

	// --- 4. Register and log in ---
	postJSON(t, baseURL+"/register", map[string]string{"username": "alice", "password": "pw"}, 200)
	postJSON(t, baseURL+"/login", map[string]string{"username": "alice", "password": "pw"}, 200)

	// --- 5. Start a conversation ---
	var started struct {
		ConversationID string `json:"conversation_id"`
		Response       string `json:"response"`
	}
	getJSON(t, baseURL+"/new_chat?username=alice", &started)
	if started.ConversationID == "" || started.Response != "Hello, how can I help you?" {
		t.Fatalf("new_chat: %+v", started)
	}

	// --- 6. Ask a question grounded in the ingested corpus ---
	var answered struct {
		Response  string `json:"response"`
		MessageID int64  `json:"messageId"`
	}
	respBody := postJSON(t, baseURL+"/chat", map[string]string{
		"message":         "what coating process gives uniform films?",
		"username":        "alice",
		"conversation_id": started.ConversationID,
	}, 200)
	if err := json.Unmarshal(respBody, &answered); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if !strings.Contains(answered.Response, "Chat Response:") {
		t.Fatalf("response missing chat section:\n%s", answered.Response)
	}
	if !strings.Contains(answered.Response, "References (APA format):") ||
		!strings.Contains(answered.Response, "Smith (2020). LensCoating. AcmeOptics.") {
		t.Fatalf("response missing APA reference:\n%s", answered.Response)
	}

	// --- 7. Rate the answer; out-of-range first, then a valid rating ---
	postJSON(t, baseURL+"/feedback", map[string]any{"message_id": answered.MessageID, "rating": 6}, 400)
	postJSON(t, baseURL+"/feedback", map[string]any{"message_id": answered.MessageID, "rating": 5}, 200)
	postJSON(t, baseURL+"/feedback", map[string]any{"message_id": answered.MessageID, "rating": 3}, 409)

	// --- 8. Corpus endpoints see the ingested document ---
	var record struct {
		PDFName string `json:"pdf_name"`
	}
	getJSON(t, baseURL+"/search_pdfs?search_term=coating", &record)
	if record.PDFName != "Smith_2020_LensCoating_AcmeOptics.pdf" {
		t.Fatalf("search_pdfs: %+v", record)
	}

	// --- 9. Export the transcript ---
	resp, err := http.Get(baseURL + "/export_conversation?conversation_id=" + started.ConversationID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "%PDF-stub" {
		t.Fatalf("export status=%d body=%q", resp.StatusCode, body)
	}
}

func postJSON(t *testing.T, url string, payload any, wantStatus int) []byte {
	t.Helper()
	blob, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s status=%d want=%d body=%s", url, resp.StatusCode, wantStatus, body)
	}
	return body
}

func getJSON(t *testing.T, url string, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		t.Fatalf("GET %s status=%d body=%s", url, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
