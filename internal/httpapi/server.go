// Package httpapi exposes the chat service over HTTP. Handlers are thin:
// they validate parameters, call into the stores and the workflow router,
// and map domain errors to status codes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/optichem/lenschat/internal/chatstore"
	"github.com/optichem/lenschat/internal/docstore"
	"github.com/optichem/lenschat/internal/router"
	"github.com/optichem/lenschat/internal/userstore"
)

const greeting = "Hello, how can I help you?"

// ChatStore is the conversation persistence the API needs.
type ChatStore interface {
	Insert(ctx context.Context, m chatstore.Message) (int64, error)
	History(ctx context.Context, conversationID string) ([]chatstore.Message, error)
	ListAll(ctx context.Context) ([]chatstore.Message, error)
	ListByUsername(ctx context.Context, username string) ([]chatstore.Message, error)
	ByID(ctx context.Context, id int64) (*chatstore.Message, error)
	SetFeedback(ctx context.Context, id int64, rating int) error
	MessageCount(ctx context.Context, conversationID string) (int, error)
	ConversationSummaries(ctx context.Context, username string) ([]chatstore.ConversationSummary, error)
}

// DocumentStore is the read side of the ingested document cache.
type DocumentStore interface {
	All(ctx context.Context) ([]docstore.Document, error)
	SearchContent(ctx context.Context, term string) (*docstore.Document, error)
}

// UserStore holds registered accounts.
type UserStore interface {
	Register(ctx context.Context, userID, password string) error
	Verify(ctx context.Context, userID, password string) error
	List(ctx context.Context) ([]userstore.User, error)
}

// ChatRouter runs the full workflow for one incoming message.
type ChatRouter interface {
	Route(ctx context.Context, conversationID, username, userMessage string) (router.Result, error)
}

// TranscriptExporter renders a conversation transcript to PDF.
type TranscriptExporter interface {
	Export(ctx context.Context, conversationID string, messages []chatstore.Message) ([]byte, error)
}

type Server struct {
	chats    ChatStore
	docs     DocumentStore
	users    UserStore
	router   ChatRouter
	exporter TranscriptExporter
}

func NewServer(chats ChatStore, docs DocumentStore, users UserStore, chatRouter ChatRouter, exporter TranscriptExporter) http.Handler {
	s := &Server{chats: chats, docs: docs, users: users, router: chatRouter, exporter: exporter}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/new_chat", s.handleNewChat)
	mux.HandleFunc("/feedback", s.handleFeedback)
	mux.HandleFunc("/search_pdfs", s.handleSearchPDFs)
	mux.HandleFunc("/processed_pdfs", s.handleProcessedPDFs)
	mux.HandleFunc("/list_chats", s.handleListChats)
	mux.HandleFunc("/get_chat_history", s.handleChatHistory)
	mux.HandleFunc("/loadChat", s.handleLoadChat)
	mux.HandleFunc("/loadConversation", s.handleLoadConversation)
	mux.HandleFunc("/conversations", s.handleConversations)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/export_conversation", s.handleExportConversation)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Message        string `json:"message"`
		Username       string `json:"username"`
		ConversationID string `json:"conversation_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Username, conversation ID, and message are required")
		return
	}
	message := strings.TrimSpace(req.Message)
	username := strings.TrimSpace(req.Username)
	conversationID := strings.TrimSpace(req.ConversationID)
	if message == "" || username == "" || conversationID == "" {
		writeError(w, http.StatusBadRequest, "Username, conversation ID, and message are required")
		return
	}
	res, err := s.router.Route(r.Context(), conversationID, username, message)
	if err != nil {
		log.Printf("httpapi: chat failed for %s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": res.Response, "messageId": res.MessageID})
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "Username required to start a new chat")
		return
	}
	conversationID := uuid.NewString()
	_, err := s.chats.Insert(r.Context(), chatstore.Message{
		ConversationID: conversationID,
		Username:       username,
		Role:           chatstore.RoleAssistant,
		Content:        greeting,
	})
	if err != nil {
		log.Printf("httpapi: new chat failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("httpapi: new conversation %s for %s", conversationID, username)
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conversationID, "response": greeting})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		MessageID *int64           `json:"message_id"`
		Rating    *json.RawMessage `json:"rating"`
	}
	if err := decodeJSON(r, &req); err != nil || req.MessageID == nil || req.Rating == nil {
		writeError(w, http.StatusBadRequest, "Invalid feedback data")
		return
	}
	rating, err := strconv.Atoi(strings.TrimSpace(string(*req.Rating)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Rating must be an integer.")
		return
	}
	switch err := s.chats.SetFeedback(r.Context(), *req.MessageID, rating); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Feedback recorded successfully"})
	case errors.Is(err, chatstore.ErrInvalidRating):
		writeError(w, http.StatusBadRequest, "Rating must be between 1 and 5.")
	case errors.Is(err, chatstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, chatstore.ErrFeedbackSet):
		writeError(w, http.StatusConflict, "Feedback already recorded")
	default:
		log.Printf("httpapi: feedback failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// pdfRecord is the wire shape for cached documents.
type pdfRecord struct {
	PDFName  string `json:"pdf_name"`
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

func (s *Server) handleSearchPDFs(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	term := r.URL.Query().Get("search_term")
	if term == "" {
		writeError(w, http.StatusBadRequest, "No search term provided")
		return
	}
	doc, err := s.docs.SearchContent(r.Context(), term)
	if err != nil {
		log.Printf("httpapi: pdf search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, pdfRecord{PDFName: doc.Name, Content: doc.Content, Metadata: doc.MetadataJSON})
}

func (s *Server) handleProcessedPDFs(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	docs, err := s.docs.All(r.Context())
	if err != nil {
		log.Printf("httpapi: processed pdfs failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	records := make([]pdfRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, pdfRecord{PDFName: d.Name, Content: d.Content, Metadata: d.MetadataJSON})
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	username := r.URL.Query().Get("username")
	var (
		messages []chatstore.Message
		err      error
	)
	if username != "" {
		messages, err = s.chats.ListByUsername(r.Context(), username)
	} else {
		messages, err = s.chats.ListAll(r.Context())
	}
	if err != nil {
		log.Printf("httpapi: list chats failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	messages, err := s.chats.ListAll(r.Context())
	if err != nil {
		log.Printf("httpapi: chat history failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleLoadChat(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	raw := r.URL.Query().Get("chat_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "No chat ID provided")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No chat ID provided")
		return
	}
	msg, err := s.chats.ByID(r.Context(), id)
	switch {
	case errors.Is(err, chatstore.ErrNotFound):
		// An unknown id loads as an empty conversation, not an error.
		writeJSON(w, http.StatusOK, []chatstore.Message{})
	case err != nil:
		log.Printf("httpapi: load chat failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, []chatstore.Message{*msg})
	}
}

func (s *Server) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "Conversation ID required")
		return
	}
	messages, err := s.chats.History(r.Context(), conversationID)
	if err != nil {
		log.Printf("httpapi: load conversation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "Username required")
		return
	}
	convos, err := s.chats.ConversationSummaries(r.Context(), username)
	if err != nil {
		log.Printf("httpapi: conversations failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, convos)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "Conversation ID required")
		return
	}
	count, err := s.chats.MessageCount(r.Context(), conversationID)
	if err != nil {
		log.Printf("httpapi: status failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"message_count": count})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req credentials
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid registration data")
		return
	}
	switch err := s.users.Register(r.Context(), req.Username, req.Password); {
	case err == nil:
		log.Printf("httpapi: user %s registered", req.Username)
		writeJSON(w, http.StatusOK, map[string]string{"status": "User registered successfully"})
	case errors.Is(err, userstore.ErrExists):
		writeError(w, http.StatusConflict, "User ID already exists")
	default:
		log.Printf("httpapi: register failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req credentials
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid login data")
		return
	}
	switch err := s.users.Verify(r.Context(), req.Username, req.Password); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Login successful"})
	case errors.Is(err, userstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, userstore.ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, "Invalid password")
	default:
		log.Printf("httpapi: login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	users, err := s.users.List(r.Context())
	if err != nil {
		log.Printf("httpapi: list users failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "Conversation ID required")
		return
	}
	messages, err := s.chats.History(r.Context(), conversationID)
	if err != nil {
		log.Printf("httpapi: export failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(messages) == 0 {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	pdf, err := s.exporter.Export(r.Context(), conversationID, messages)
	if err != nil {
		log.Printf("httpapi: export render failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="conversation-`+conversationID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
