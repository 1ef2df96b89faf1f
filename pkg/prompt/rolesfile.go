package prompt

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadRoles reads role definitions from a YAML file of the form
//
//	roles:
//	  - id: financial_aid
//	    label: Financial Aid
//	    persona: You are a financial aid officer.
//	    instruction: List scholarships, grants and loan options.
func LoadRoles(path string) ([]Role, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roles file: %w", err)
	}
	defer f.Close()

	return DecodeRoles(f)
}

// DecodeRoles parses YAML role definitions. Every role needs an id and a
// persona; the label defaults to the id.
func DecodeRoles(r io.Reader) ([]Role, error) {
	var file rolesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}

	seen := make(map[string]bool, len(file.Roles))
	for i := range file.Roles {
		role := &file.Roles[i]
		role.ID = strings.TrimSpace(role.ID)
		if role.ID == "" {
			return nil, fmt.Errorf("role %d: id is required", i)
		}
		if strings.TrimSpace(role.Persona) == "" {
			return nil, fmt.Errorf("role %s: persona is required", role.ID)
		}
		if seen[role.ID] {
			return nil, fmt.Errorf("duplicate role id: %s", role.ID)
		}
		seen[role.ID] = true
		if role.Label == "" {
			role.Label = role.ID
		}
	}

	return file.Roles, nil
}
