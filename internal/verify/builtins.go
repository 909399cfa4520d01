package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// registerBuiltins installs the supplied verifier set.
func (r *Registry) registerBuiltins() {
	r.verifiers["file_exists"] = verifyFileExists
	r.verifiers["file_contains"] = verifyFileContains
	r.verifiers["html_contains"] = verifyHTMLContains
	r.verifiers["exit_code"] = verifyExitCode
	r.verifiers["http_status"] = verifyHTTPStatus
	r.verifiers["min_count"] = verifyMinCount
}

func verifyFileExists(vctx Context, args map[string]any) (Outcome, error) {
	path, err := argString(args, "path")
	if err != nil {
		return Outcome{}, err
	}
	full := resolvePath(vctx, path)

	info, err := os.Stat(full)
	if err != nil {
		return Outcome{Passed: false, Details: fmt.Sprintf("file %s does not exist", path)}, nil
	}
	return Outcome{
		Passed:   true,
		Details:  fmt.Sprintf("file %s exists", path),
		Metadata: map[string]any{"size": info.Size()},
	}, nil
}

func verifyFileContains(vctx Context, args map[string]any) (Outcome, error) {
	path, err := argString(args, "path")
	if err != nil {
		return Outcome{}, err
	}
	text, err := argString(args, "text")
	if err != nil {
		return Outcome{}, err
	}

	data, err := os.ReadFile(resolvePath(vctx, path))
	if err != nil {
		return Outcome{Passed: false, Details: fmt.Sprintf("cannot read %s: %v", path, err)}, nil
	}
	if !strings.Contains(string(data), text) {
		return Outcome{Passed: false, Details: fmt.Sprintf("%s does not contain %q", path, text)}, nil
	}
	return Outcome{Passed: true, Details: fmt.Sprintf("%s contains %q", path, text)}, nil
}

func verifyHTMLContains(vctx Context, args map[string]any) (Outcome, error) {
	text, err := argString(args, "text")
	if err != nil {
		return Outcome{}, err
	}
	if vctx.HTMLSnapshot == "" {
		return Outcome{Passed: false, Details: "no html snapshot captured"}, nil
	}
	if !strings.Contains(vctx.HTMLSnapshot, text) {
		return Outcome{Passed: false, Details: fmt.Sprintf("snapshot does not contain %q", text)}, nil
	}
	return Outcome{Passed: true, Details: fmt.Sprintf("snapshot contains %q", text)}, nil
}

func verifyExitCode(vctx Context, args map[string]any) (Outcome, error) {
	expected, err := argInt(args, "expected")
	if err != nil {
		return Outcome{}, err
	}

	actual, ok := resultInt(vctx.LastResult, "exit_code")
	if !ok {
		return Outcome{Passed: false, Details: "no exit_code in tool output"}, nil
	}
	if actual != expected {
		return Outcome{Passed: false, Details: fmt.Sprintf("exit code %d, expected %d", actual, expected)}, nil
	}
	return Outcome{Passed: true, Details: fmt.Sprintf("exit code %d", actual)}, nil
}

func verifyHTTPStatus(vctx Context, args map[string]any) (Outcome, error) {
	expected, err := argInt(args, "expected")
	if err != nil {
		return Outcome{}, err
	}

	actual, ok := resultInt(vctx.LastResult, "status_code")
	if !ok {
		return Outcome{Passed: false, Details: "no status_code in tool output"}, nil
	}
	if actual != expected {
		return Outcome{Passed: false, Details: fmt.Sprintf("http status %d, expected %d", actual, expected)}, nil
	}
	return Outcome{Passed: true, Details: fmt.Sprintf("http status %d", actual)}, nil
}

func verifyMinCount(vctx Context, args map[string]any) (Outcome, error) {
	key, err := argString(args, "key")
	if err != nil {
		return Outcome{}, err
	}
	min, err := argInt(args, "min")
	if err != nil {
		return Outcome{}, err
	}

	val, ok := vctx.LastResult[key]
	if !ok {
		return Outcome{Passed: false, Details: fmt.Sprintf("no %s in tool output", key)}, nil
	}

	count := -1
	switch v := val.(type) {
	case []any:
		count = len(v)
	case []string:
		count = len(v)
	case map[string]any:
		count = len(v)
	default:
		if n, ok := toInt(val); ok {
			count = n
		}
	}
	if count < 0 {
		return Outcome{Passed: false, Details: fmt.Sprintf("%s is not countable", key)}, nil
	}

	if count < min {
		return Outcome{
			Passed:   false,
			Details:  fmt.Sprintf("%s has %d elements, expected at least %d", key, count, min),
			Metadata: map[string]any{"count": count},
		}, nil
	}
	return Outcome{
		Passed:   true,
		Details:  fmt.Sprintf("%s has %d elements", key, count),
		Metadata: map[string]any{"count": count},
	}, nil
}

// Argument helpers. YAML numbers arrive as int or float64 depending on
// the decoder path.

func argString(args map[string]any, key string) (string, error) {
	val, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func argInt(args map[string]any, key string) (int, error) {
	val, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	n, ok := toInt(val)
	if !ok {
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
	return n, nil
}

func toInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func resultInt(result map[string]any, key string) (int, bool) {
	if result == nil {
		return 0, false
	}
	val, ok := result[key]
	if !ok {
		return 0, false
	}
	return toInt(val)
}

func resolvePath(vctx Context, path string) string {
	if filepath.IsAbs(path) || vctx.WorkDir == "" {
		return path
	}
	return filepath.Join(vctx.WorkDir, path)
}
