// Package prompt renders role-specific instructions from a query, the
// student's retrieved memories and optional request context.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in role identifiers.
const (
	RoleAcademicAdvisor = "academic_advisor"
	RoleCareerCounselor = "career_counselor"
)

const noMemories = "No prior memories."

// Role describes how one agent frames its instruction.
type Role struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"` // short display name, e.g. "Academic"
	Persona     string `yaml:"persona"`
	Instruction string `yaml:"instruction"`
}

var builtinRoles = []Role{
	{
		ID:          RoleAcademicAdvisor,
		Label:       "Academic",
		Persona:     "You are an academic advisor.",
		Instruction: "Provide detailed guidance on suitable courses, majors, study plans, and online learning resources.",
	},
	{
		ID:          RoleCareerCounselor,
		Label:       "Career",
		Persona:     "You are a career counselor.",
		Instruction: "Provide detailed insights on career paths, in-demand skills, job roles, and practical steps for career growth.",
	},
}

// Composer maps role ids to their framing. The zero value knows no roles;
// use NewComposer for the built-in set.
type Composer struct {
	roles map[string]Role
}

// NewComposer returns a composer with the built-in roles plus any extra ones.
// An extra role with a built-in id replaces it.
func NewComposer(extra ...Role) *Composer {
	c := &Composer{roles: make(map[string]Role, len(builtinRoles)+len(extra))}
	for _, r := range builtinRoles {
		c.roles[r.ID] = r
	}
	for _, r := range extra {
		c.roles[r.ID] = r
	}
	return c
}

// Role looks up a role by id.
func (c *Composer) Role(id string) (Role, bool) {
	r, ok := c.roles[id]
	return r, ok
}

// Label returns the role's display label, or "" for unknown roles.
func (c *Composer) Label(id string) string {
	return c.roles[id].Label
}

// Compose renders the instruction for role. Unknown roles get the query back unchanged.
func (c *Composer) Compose(role, query string, memories []string, context map[string]interface{}) string {
	r, ok := c.roles[role]
	if !ok {
		return query
	}

	memText := noMemories
	if len(memories) > 0 {
		memText = strings.Join(memories, "\n")
	}

	var b strings.Builder
	b.WriteString(r.Persona)
	b.WriteString("\nStudent context:\n")
	b.WriteString(memText)
	b.WriteString("\n\n")

	if len(context) > 0 {
		b.WriteString("Additional context:\n")
		for _, key := range sortedKeys(context) {
			fmt.Fprintf(&b, "%s: %v\n", key, context[key])
		}
		b.WriteString("\n")
	}

	b.WriteString("User question: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(r.Instruction)
	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
