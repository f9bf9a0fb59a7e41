package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/studiumlabs/studium/internal/store"
)

// FlagsHandler serves the faculty-facing flag review API.
type FlagsHandler struct {
	Store *store.Store
}

// Register mounts the flag routes on an authenticated group.
func (h *FlagsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
	g.PUT("/:id/review", h.review)
	g.POST("/:id/escalate", h.escalate)
	g.GET("/:id/audit", h.audit)
}

// Flag is one integrity flag in wire format.
type Flag struct {
	ID              string `json:"id"`
	SourceMessageID string `json:"source_message_id,omitempty"`
	MessageExcerpt  string `json:"message_excerpt"`
	StudentID       string `json:"student_id"`
	CourseID        string `json:"course_id"`
	Severity        string `json:"severity"`
	Status          string `json:"status"`
	Details         string `json:"details"`
	CreatedAt       time.Time `json:"created_at"`
}

func flagToWire(rec store.FlagRecord) Flag {
	return Flag{
		ID:              rec.ID,
		SourceMessageID: rec.SourceMessageID,
		MessageExcerpt:  rec.MessageExcerpt,
		StudentID:       rec.StudentID,
		CourseID:        rec.CourseID,
		Severity:        rec.Severity,
		Status:          rec.Status,
		Details:         rec.Details,
		CreatedAt:       rec.CreatedAt,
	}
}

func (h *FlagsHandler) list(c echo.Context) error {
	filter := store.FlagFilter{
		Severity: c.QueryParam("severity"),
		Status:   c.QueryParam("status"),
		CourseID: c.QueryParam("course_id"),
	}
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be RFC3339")
		}
		filter.From = t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be RFC3339")
		}
		filter.To = t
	}
	flags, err := h.Store.ListFlags(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]Flag, 0, len(flags))
	for _, f := range flags {
		out = append(out, flagToWire(f))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"flags": out})
}

// ReviewRequest carries the reviewer's optional comment.
type ReviewRequest struct {
	Comment string `json:"comment"`
}

func (h *FlagsHandler) review(c echo.Context) error {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, _ := c.Get("user_id").(string)
	err := h.Store.MarkFlagReviewed(c.Request().Context(), c.Param("id"), actor, req.Comment)
	switch {
	case errors.Is(err, store.ErrFlagNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "flag not found")
	case errors.Is(err, store.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": store.FlagStatusReviewed})
}

// EscalateRequest raises a flag to the escalated state.
type EscalateRequest struct {
	Reason string `json:"reason"`
	Level  string `json:"level"`
}

func (h *FlagsHandler) escalate(c echo.Context) error {
	var req EscalateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	switch req.Level {
	case "", store.SeverityLow, store.SeverityMedium, store.SeverityHigh:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "level must be low, medium or high")
	}
	actor, _ := c.Get("user_id").(string)
	err := h.Store.EscalateFlag(c.Request().Context(), c.Param("id"), req.Level, req.Reason, actor)
	switch {
	case errors.Is(err, store.ErrFlagNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "flag not found")
	case errors.Is(err, store.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": store.FlagStatusEscalated})
}

// AuditEntry is one ledger entry in wire format.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Comment   string    `json:"comment"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *FlagsHandler) audit(c echo.Context) error {
	flagID := c.Param("id")
	if _, found, err := h.Store.GetFlag(c.Request().Context(), flagID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	} else if !found {
		return echo.NewHTTPError(http.StatusNotFound, "flag not found")
	}
	entries, err := h.Store.ListAuditEntries(c.Request().Context(), flagID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntry{ID: e.ID, Action: e.Action, Comment: e.Comment, Actor: e.Actor, CreatedAt: e.CreatedAt})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"flag_id": flagID, "audit": out})
}
