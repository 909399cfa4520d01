package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalLeaf = `
id: t1
name: write greeting
type: file_op
goal: create a greeting file
path: hello.txt
content: hello
`

func TestParse_MinimalLeaf(t *testing.T) {
	tk, err := Parse([]byte(minimalLeaf))
	require.NoError(t, err)

	assert.Equal(t, "t1", tk.ID)
	assert.Equal(t, TypeFileOp, tk.Type)
	assert.False(t, tk.IsComposite())
	assert.Equal(t, OnFailEscalate, tk.OnFail)
	assert.Equal(t, DefaultMaxAttempts, tk.StopRules.MaxAttempts)
	assert.Equal(t, DefaultMaxMinutes, tk.StopRules.MaxMinutes)
	assert.Equal(t, DefaultMaxToolCalls, tk.StopRules.MaxToolCalls)
	assert.Equal(t, []byte(minimalLeaf), tk.Raw())
}

func TestParse_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "name: x\ntype: command\ngoal: g\n", "id is required"},
		{"missing name", "id: x\ntype: command\ngoal: g\n", "name is required"},
		{"missing type", "id: x\nname: n\ngoal: g\n", "type is required"},
		{"missing goal", "id: x\nname: n\ntype: command\n", "goal is required"},
		{"unknown type", "id: x\nname: n\ntype: teleport\ngoal: g\n", "unknown type"},
		{"unknown on_fail", "id: x\nname: n\ntype: command\ngoal: g\non_fail: shrug\n", "unknown on_fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_StopRulesBelowMinimumRejected(t *testing.T) {
	yaml := `
id: t1
name: n
type: command
goal: g
command: "true"
stop_rules:
  max_attempts: 0
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestParse_StopRulesExplicit(t *testing.T) {
	yaml := `
id: t1
name: n
type: command
goal: g
command: "true"
stop_rules:
  max_attempts: 5
  max_minutes: 2
  max_tool_calls: 9
`
	tk, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, 5, tk.StopRules.MaxAttempts)
	assert.Equal(t, 2, tk.StopRules.MaxMinutes)
	assert.Equal(t, 9, tk.StopRules.MaxToolCalls)
}

func TestParse_CompositeNeedsSteps(t *testing.T) {
	yaml := `
id: c1
name: pipeline
type: composite
goal: run the pipeline
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "no steps")
}

func TestParse_LeafWithStepsRejected(t *testing.T) {
	yaml := `
id: t1
name: n
type: command
goal: g
command: "true"
steps:
  - id: sub
    name: sub
    type: command
    goal: g
    command: "true"
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares steps")
}

func TestParse_CompositeRecursiveValidation(t *testing.T) {
	yaml := `
id: c1
name: pipeline
type: composite
goal: run the pipeline
steps:
  - id: s1
    name: step one
    type: command
    goal: do the first thing
    command: "true"
  - id: s2
    name: step two
    type: unknown_kind
    goal: do the second thing
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "step 1")
}

func TestParse_CompositeWithVerifications(t *testing.T) {
	yaml := `
id: c1
name: pipeline
type: composite
goal: run the pipeline
on_fail: abort
steps:
  - id: s1
    name: step one
    type: file_op
    goal: write the file
    path: out.txt
    content: done
    verifications:
      - id: file_exists
        args:
          path: out.txt
      - id: file_contains
        args:
          path: out.txt
          text: done
`
	tk, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, tk.Steps, 1)

	step := tk.Steps[0]
	require.Len(t, step.Verifications, 2)
	assert.Equal(t, "file_exists", step.Verifications[0].ID)
	assert.Equal(t, "out.txt", step.Verifications[0].Args["path"])
	assert.Equal(t, OnFailAbort, tk.OnFail)
	assert.Equal(t, OnFailEscalate, step.OnFail)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("id: [unclosed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile("/nonexistent/task.yaml")
	require.Error(t, err)
}
