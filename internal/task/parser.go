package task

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// rawTask mirrors Task for unmarshalling. Stop-rule fields are pointers
// so an absent field (defaulted) is distinguishable from an explicit
// below-minimum value (rejected).
type rawTask struct {
	ID               string         `koanf:"id"`
	Name             string         `koanf:"name"`
	Type             string         `koanf:"type"`
	Goal             string         `koanf:"goal"`
	DefinitionOfDone string         `koanf:"definition_of_done"`
	StopRules        rawStopRules   `koanf:"stop_rules"`
	OnFail           string         `koanf:"on_fail"`
	Verifications    []VerifierSpec `koanf:"verifications"`
	AllowedPaths     []string       `koanf:"allowed_paths"`
	AllowedTools     []string       `koanf:"allowed_tools"`
	RequiresHuman    bool           `koanf:"requires_human"`
	Steps            []rawTask      `koanf:"steps"`
	Command          string         `koanf:"command"`
	Script           string         `koanf:"script"`
	Path             string         `koanf:"path"`
	Content          string         `koanf:"content"`
	URL              string         `koanf:"url"`
	Method           string         `koanf:"method"`
	Target           string         `koanf:"target"`
	Message          string         `koanf:"message"`
}

type rawStopRules struct {
	MaxAttempts  *int `koanf:"max_attempts"`
	MaxMinutes   *int `koanf:"max_minutes"`
	MaxToolCalls *int `koanf:"max_tool_calls"`
}

// Parse loads a YAML task definition and validates it. Stop rules absent
// from the definition receive defaults; explicit values below their
// minimums fail validation.
func Parse(data []byte) (*Task, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var rt rawTask
	if err := k.Unmarshal("", &rt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	t := rt.toTask()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	t.raw = data
	return t, nil
}

// ParseFile reads and parses a task definition file.
func ParseFile(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task definition: %w", err)
	}
	return Parse(data)
}

func (rt rawTask) toTask() *Task {
	t := &Task{
		ID:               rt.ID,
		Name:             rt.Name,
		Type:             Type(rt.Type),
		Goal:             rt.Goal,
		DefinitionOfDone: rt.DefinitionOfDone,
		StopRules:        rt.StopRules.toStopRules(),
		OnFail:           OnFail(rt.OnFail),
		Verifications:    rt.Verifications,
		AllowedPaths:     rt.AllowedPaths,
		AllowedTools:     rt.AllowedTools,
		RequiresHuman:    rt.RequiresHuman,
		Command:          rt.Command,
		Script:           rt.Script,
		Path:             rt.Path,
		Content:          rt.Content,
		URL:              rt.URL,
		Method:           rt.Method,
		Target:           rt.Target,
		Message:          rt.Message,
	}
	if t.OnFail == "" {
		t.OnFail = OnFailEscalate
	}
	for _, step := range rt.Steps {
		t.Steps = append(t.Steps, *step.toTask())
	}
	return t
}

func (rs rawStopRules) toStopRules() StopRules {
	s := StopRules{
		MaxAttempts:  DefaultMaxAttempts,
		MaxMinutes:   DefaultMaxMinutes,
		MaxToolCalls: DefaultMaxToolCalls,
	}
	if rs.MaxAttempts != nil {
		s.MaxAttempts = *rs.MaxAttempts
	}
	if rs.MaxMinutes != nil {
		s.MaxMinutes = *rs.MaxMinutes
	}
	if rs.MaxToolCalls != nil {
		s.MaxToolCalls = *rs.MaxToolCalls
	}
	return s
}
