package statemachine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition is returned by ValidateDefinition.
var ErrInvalidDefinition = errors.New("invalid state machine definition")

var knownTypes = map[string]bool{
	"Pass": true, "Task": true, "Choice": true, "Wait": true,
	"Succeed": true, "Fail": true, "Parallel": true, "Map": true,
}

// LoadDocument reads an ASL document from a JSON or YAML file. YAML is
// accepted so definitions can be kept with comments.
func LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	return ParseDocument(data, strings.ToLower(filepath.Ext(path)))
}

// ParseDocument decodes an ASL document. ext selects the format (".json",
// ".yaml", ".yml"); anything else is tried as JSON then YAML.
func ParseDocument(data []byte, ext string) (map[string]any, error) {
	var doc map[string]any
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON definition: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML definition: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			if yerr := yaml.Unmarshal(data, &doc); yerr != nil {
				return nil, fmt.Errorf("parsing definition: not JSON (%v) nor YAML (%v)", err, yerr)
			}
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}
	return doc, nil
}

// EncodeDocument renders doc as indented JSON, or YAML when asYAML is set.
func EncodeDocument(doc map[string]any, asYAML bool) (string, error) {
	if asYAML {
		b, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("encoding definition as YAML: %w", err)
		}
		return string(b), nil
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding definition as JSON: %w", err)
	}
	return string(b), nil
}

// ValidateDefinition checks the structure of an ASL document: the start
// state exists, every transition targets a defined state, each state has a
// known type, and non-terminal states either continue or end. Parallel
// branches are checked recursively. All problems are reported together.
func ValidateDefinition(doc map[string]any) error {
	var problems []string
	validateGraph(doc, "", &problems)
	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  %s", ErrInvalidDefinition, strings.Join(problems, "\n  "))
	}
	return nil
}

func validateGraph(doc map[string]any, where string, problems *[]string) {
	report := func(format string, args ...any) {
		*problems = append(*problems, where+fmt.Sprintf(format, args...))
	}

	states, ok := doc["States"].(map[string]any)
	if !ok || len(states) == 0 {
		report("States must be a non-empty object")
		return
	}
	startAt, _ := doc["StartAt"].(string)
	if startAt == "" {
		report("StartAt is missing")
	} else if _, ok := states[startAt]; !ok {
		report("StartAt '%s' is not a defined state", startAt)
	}

	target := func(from, field string, v any) {
		name, ok := v.(string)
		if !ok || name == "" {
			report("state '%s': %s must be a state name", from, field)
			return
		}
		if _, ok := states[name]; !ok {
			report("state '%s': %s '%s' is not a defined state", from, field, name)
		}
	}

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st, ok := states[name].(map[string]any)
		if !ok {
			report("state '%s' must be an object", name)
			continue
		}
		kind, _ := st["Type"].(string)
		if !knownTypes[kind] {
			report("state '%s': unknown Type %q", name, kind)
			continue
		}

		switch kind {
		case "Succeed", "Fail":
			if _, ok := st["Next"]; ok {
				report("state '%s': %s state cannot have Next", name, kind)
			}
		case "Choice":
			choices, _ := st["Choices"].([]any)
			if len(choices) == 0 {
				report("state '%s': Choices must be a non-empty list", name)
			}
			for _, c := range choices {
				cm, ok := c.(map[string]any)
				if !ok {
					report("state '%s': each choice must be an object", name)
					continue
				}
				target(name, "choice Next", cm["Next"])
			}
			if d, ok := st["Default"]; ok {
				target(name, "Default", d)
			}
		default:
			next, hasNext := st["Next"]
			end, _ := st["End"].(bool)
			switch {
			case hasNext && end:
				report("state '%s': cannot have both Next and End", name)
			case hasNext:
				target(name, "Next", next)
			case !end:
				report("state '%s': must have Next or End", name)
			}
		}

		if catches, ok := st["Catch"].([]any); ok {
			for _, c := range catches {
				if cm, ok := c.(map[string]any); ok {
					target(name, "Catch Next", cm["Next"])
				}
			}
		}
		if kind == "Task" {
			if r, _ := st["Resource"].(string); r == "" {
				report("state '%s': Task needs a Resource", name)
			}
		}
		if kind == "Parallel" {
			branches, _ := st["Branches"].([]any)
			if len(branches) == 0 {
				report("state '%s': Branches must be a non-empty list", name)
			}
			for i, b := range branches {
				bm, ok := b.(map[string]any)
				if !ok {
					report("state '%s': branch %d must be an object", name, i)
					continue
				}
				validateGraph(bm, fmt.Sprintf("%sstate '%s' branch %d: ", where, name, i), problems)
			}
		}
	}
}
