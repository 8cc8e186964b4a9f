package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes one simulation run: the environment and its agents.
type Scenario struct {
	Name        string        `yaml:"name"`
	Environment string        `yaml:"environment"`
	MaxTurns    int           `yaml:"max_turns"`
	StartTime   time.Time     `yaml:"start_time"`
	Step        time.Duration `yaml:"step"`
	EnvDesc     string        `yaml:"env_description"`
	// ProfileDir holds per-agent ROLE.md, PLAN.md and PROMPT.md files,
	// relative to the scenario file.
	ProfileDir string          `yaml:"profile_dir"`
	Agents     []AgentScenario `yaml:"agents"`
}

// AgentScenario configures one model-driven agent.
type AgentScenario struct {
	Name            string `yaml:"name"`
	RoleDescription string `yaml:"role_description"`
	// PromptTemplate uses ${var} placeholders; empty selects the
	// environment's built-in template.
	PromptTemplate string `yaml:"prompt_template"`
	DayPlan        string `yaml:"day_plan"`
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if sc.ProfileDir != "" && !filepath.IsAbs(sc.ProfileDir) {
		sc.ProfileDir = filepath.Join(filepath.Dir(path), sc.ProfileDir)
	}
	return sc, nil
}

// ParseScenario decodes a scenario document and applies defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	sc.applyDefaults()
	return &sc, nil
}

func (s *Scenario) validate() error {
	switch s.Environment {
	case "combat", "hunting":
	case "":
		return errors.New("scenario: environment is required")
	default:
		return fmt.Errorf("scenario: unknown environment %q", s.Environment)
	}
	seen := make(map[string]bool, len(s.Agents))
	for i, a := range s.Agents {
		if a.Name == "" {
			return fmt.Errorf("scenario: agent %d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("scenario: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

func (s *Scenario) applyDefaults() {
	if s.Name == "" {
		s.Name = s.Environment
	}
	if s.MaxTurns == 0 {
		s.MaxTurns = 10
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Date(2023, 4, 1, 7, 0, 0, 0, time.UTC)
	}
	if s.Step == 0 {
		s.Step = time.Minute
	}
}

// Agent returns the scenario entry for name, if any.
func (s *Scenario) Agent(name string) (AgentScenario, bool) {
	for _, a := range s.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentScenario{}, false
}
