package orchestrator

import (
	"encoding/json"
	"errors"
)

// ErrInvalidRequest marks a request the caller must fix, such as a missing user id.
var ErrInvalidRequest = errors.New("invalid request")

// MemoriesKey is the result property holding the memory snippets.
const MemoriesKey = "memories"

// Role binds an agent role id to the key its text is returned under.
type Role struct {
	ID  string `json:"role" mapstructure:"role"`
	Key string `json:"key" mapstructure:"key"`
}

// DefaultRoles returns the academic and career agents.
func DefaultRoles() []Role {
	return []Role{
		{ID: "academic_advisor", Key: "academic"},
		{ID: "career_counselor", Key: "career"},
	}
}

// AgentResponse holds one text per configured role plus the memories used to ground them.
type AgentResponse struct {
	Responses map[string]string
	Memories  []string
}

// MarshalJSON flattens the response into one object: a property per result
// key plus "memories".
func (r AgentResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Responses)+1)
	for key, text := range r.Responses {
		out[key] = text
	}
	memories := r.Memories
	if memories == nil {
		memories = []string{}
	}
	out[MemoriesKey] = memories
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON. Non-string properties other than
// "memories" are ignored.
func (r *AgentResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Responses = make(map[string]string, len(raw))
	r.Memories = []string{}
	for key, value := range raw {
		if key == MemoriesKey {
			if err := json.Unmarshal(value, &r.Memories); err != nil {
				return err
			}
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			r.Responses[key] = text
		}
	}
	return nil
}
