package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// Profile files an agent directory may contain.
const (
	roleFile   = "ROLE.md"
	planFile   = "PLAN.md"
	promptFile = "PROMPT.md"
)

// LoadProfile reads ROLE.md, PLAN.md and PROMPT.md from dir/<name> and
// fills any field of p that is still empty. Missing files are skipped.
func LoadProfile(dir string, p Persona) Persona {
	if dir == "" {
		return p
	}
	base := filepath.Join(dir, p.Name)
	read := func(f string) string {
		data, err := os.ReadFile(filepath.Join(base, f))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
	if p.RoleDescription == "" {
		p.RoleDescription = read(roleFile)
	}
	if p.DayPlan == "" {
		p.DayPlan = read(planFile)
	}
	if p.PromptTemplate == "" {
		p.PromptTemplate = read(promptFile)
	}
	return p
}
