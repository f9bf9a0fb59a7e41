package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/studiumlabs/studium/internal/retrieval"
)

// RetrieveHandler exposes raw similarity search for debugging and for
// features that want ranked chunks without a chat turn.
type RetrieveHandler struct {
	Retriever *retrieval.Retriever
}

// Register mounts the retrieval route on an authenticated group.
func (h *RetrieveHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.retrieve)
}

// RetrieveRequest asks for the chunks most relevant to a query.
type RetrieveRequest struct {
	Query    string `json:"query"`
	CourseID string `json:"course_id"`
	K        int    `json:"k"`
}

func (h *RetrieveHandler) retrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	chunks, err := h.Retriever.Retrieve(c.Request().Context(), req.Query, req.CourseID, req.K)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if chunks == nil {
		chunks = []retrieval.RankedChunk{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": chunks})
}
