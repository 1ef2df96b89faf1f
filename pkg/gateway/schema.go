package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var querySchemaDefinition = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"id":      map[string]interface{}{"type": "string"},
		"user_id": map[string]interface{}{"type": "string", "minLength": 1},
		"message": map[string]interface{}{"type": "string"},
		"context": map[string]interface{}{"type": []string{"object", "null"}},
	},
	"required": []string{"user_id", "message"},
}

func newQuerySchema() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(querySchemaDefinition))
}

// requestError carries the HTTP status a decode failure maps to.
type requestError struct {
	Status int
	Detail string
}

func (e *requestError) Error() string {
	return e.Detail
}

// decodeQuery validates body against the query schema before decoding it into
// dst. Malformed JSON maps to 400, schema violations to 422.
func decodeQuery(schema *gojsonschema.Schema, body []byte, dst interface{}) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &requestError{Status: http.StatusBadRequest, Detail: fmt.Sprintf("malformed request body: %v", err)}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &requestError{Status: http.StatusUnprocessableEntity, Detail: strings.Join(details, "; ")}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &requestError{Status: http.StatusBadRequest, Detail: fmt.Sprintf("malformed request body: %v", err)}
	}
	return nil
}
