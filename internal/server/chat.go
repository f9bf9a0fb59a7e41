package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/studiumlabs/studium/internal/assistant"
	"github.com/studiumlabs/studium/internal/store"
)

// ChatHandler exposes the chat turn and history endpoints.
type ChatHandler struct {
	Assistant *assistant.Assistant
	Store     *store.Store
}

// Register mounts the chat routes on an authenticated group.
func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.chat)
	g.GET("/:sessionId/history", h.history)
	g.DELETE("/:sessionId/history", h.clearHistory)
}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	CourseID  string `json:"course_id"`
	Query     string `json:"query"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	userID, _ := c.Get("user_id").(string)

	result, err := h.Assistant.HandleTurn(c.Request().Context(), assistant.TurnRequest{
		SessionID: req.SessionID,
		UserID:    userID,
		CourseID:  req.CourseID,
		Query:     req.Query,
	})
	// a hit on the tool loop bound still produced a (partial) answer
	if err != nil && !errors.Is(err, assistant.ErrToolLoopLimit) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// ChatMessage is one history entry in wire format.
type ChatMessage struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	FunctionName string `json:"function_name,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func (h *ChatHandler) history(c echo.Context) error {
	sessionID := c.Param("sessionId")
	messages, err := h.Store.ListChatMessages(c.Request().Context(), sessionID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, ChatMessage{
			ID:           m.ID,
			Role:         m.Role,
			Content:      m.Content,
			FunctionName: m.FunctionName,
			CreatedAt:    m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": sessionID, "messages": out})
}

func (h *ChatHandler) clearHistory(c echo.Context) error {
	sessionID := c.Param("sessionId")
	if err := h.Store.ClearSessionHistory(c.Request().Context(), sessionID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
