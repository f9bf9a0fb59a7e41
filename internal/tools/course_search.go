package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/studiumlabs/studium/internal/retrieval"
)

// CourseSearch exposes corpus retrieval as a model-callable function.
// Calls that omit course_id are scoped to the session's course by the
// dispatcher before they reach Invoke.
type CourseSearch struct {
	Retriever *retrieval.Retriever
}

func (c *CourseSearch) Name() string { return "course_search" }

func (c *CourseSearch) Description() string {
	return "Search the ingested course materials for passages relevant to a question. Returns ranked excerpts with similarity scores."
}

func (c *CourseSearch) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query, phrased close to the student's question.",
			},
			"course_id": map[string]interface{}{
				"type":        "string",
				"description": "Restrict results to one course. Defaults to the session's course.",
			},
			"k": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of passages to return.",
			},
		},
		"required": []string{"query"},
	}
}

func (c *CourseSearch) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query    string  `json:"query"`
		CourseID string  `json:"course_id"`
		K        float64 `json:"k"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	chunks, err := c.Retriever.Retrieve(ctx, params.Query, params.CourseID, int(params.K))
	if err != nil {
		return "", err
	}
	if chunks == nil {
		chunks = []retrieval.RankedChunk{}
	}
	payload, err := json.Marshal(map[string]interface{}{"results": chunks})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
