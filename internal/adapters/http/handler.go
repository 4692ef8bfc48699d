package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PabloGalante/secretary-agent/internal/app/conversation"
	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

type Server struct {
	svc *conversation.Service
}

func NewServer(svc *conversation.Service, verifier domain.IdentityVerifier) http.Handler {
	s := &Server{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, withRequestID, withLogging, middleware.Recoverer, withCORS)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(verifier))

		r.Get("/me", s.handleMe)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Get("/{id}", s.handleGetConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
			r.Get("/{id}/messages", s.handleListMessages)
			r.Post("/{id}/messages", s.handleSendMessage)
		})
	})

	return r
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type conversationResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	TokensInput    *int      `json:"tokens_input,omitempty"`
	TokensOutput   *int      `json:"tokens_output,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type usageResponse struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

type sendMessageResponse struct {
	UserMessage      messageResponse `json:"userMessage"`
	AssistantMessage messageResponse `json:"assistantMessage"`
	Usage            usageResponse   `json:"usage"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "API is running",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]userResponse{
		"user": {ID: string(id.UserID), Email: id.Email},
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	// The body is optional.
	if !decodeBody(w, r, &req, true) {
		return
	}

	conv, err := s.svc.CreateConversation(r.Context(), conversation.CreateConversationInput{
		UserID: identityFrom(r.Context()).UserID,
		Title:  req.Title,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":      "Conversation created",
		"conversation": toConversationResponse(conv),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	convs, err := s.svc.ListConversations(r.Context(), identityFrom(r.Context()).UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.GetConversation(r.Context(), conversationID(r), identityFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": toConversationResponse(conv)})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteConversation(r.Context(), conversationID(r), identityFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.ListMessages(r.Context(), conversationID(r), identityFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessagesResponse(msgs)})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	out, err := s.svc.SendMessage(r.Context(), conversation.SendMessageInput{
		ConversationID: conversationID(r),
		UserID:         identityFrom(r.Context()).UserID,
		Content:        req.Content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sendMessageResponse{
		UserMessage:      toMessageResponse(out.UserMessage),
		AssistantMessage: toMessageResponse(out.AssistantMessage),
		Usage: usageResponse{
			InputTokens:      out.Usage.InputTokens,
			OutputTokens:     out.Usage.OutputTokens,
			TotalTokens:      out.Usage.TotalTokens,
			EstimatedCostUSD: out.Usage.CostUSD,
		},
	})
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func conversationID(r *http.Request) domain.ConversationID {
	return domain.ConversationID(chi.URLParam(r, "id"))
}

func toConversationResponse(c *domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:        string(c.ID),
		UserID:    string(c.UserID),
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		Role:           string(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		TokensInput:    m.TokensInput,
		TokensOutput:   m.TokensOutput,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// maxBodyBytes caps request bodies at 100 KiB.
const maxBodyBytes = 100 << 10

// decodeBody decodes a JSON body of at most maxBodyBytes and writes the
// error response itself when it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, optional && errors.Is(err, io.EOF):
		return true
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid JSON body")
	}
	return false
}

// invalidInputMessage turns "user id is required: invalid input" into
// "User id is required".
func invalidInputMessage(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+domain.ErrInvalidInput.Error())
	if msg == "" || msg == domain.ErrInvalidInput.Error() {
		return "Invalid input"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// fail maps a service error to a status code. Provider and store details
// are logged, not returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.LoggerFromContext(r.Context())

	var pe *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, invalidInputMessage(err))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.As(err, &pe):
		log.Error("completion provider failure", "kind", pe.Kind, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "completion provider failure",
			"kind":  string(pe.Kind),
		})
	default:
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
