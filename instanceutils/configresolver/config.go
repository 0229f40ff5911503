package configresolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ruteri/runtime-init/interfaces"
)

// placeholderPattern matches {{{ NAME }}} before {{ NAME }}.
var placeholderPattern = regexp.MustCompile(`\{\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}\}|\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes every placeholder in template with its parameter value.
//
// Parameters:
//   - template: Text containing {{ NAME }} or {{{ NAME }}} placeholders
//   - params: Resolved runtime parameters
//
// Returns:
//   - Rendered text
//   - interfaces.ErrUndefinedVariable naming every placeholder without a value
func Render(template string, params *interfaces.Parameters) (string, error) {
	if missing := UndefinedNames(template, params); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", interfaces.ErrUndefinedVariable, strings.Join(missing, ", "))
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		value, _ := params.Get(placeholderName(match))
		return value
	}), nil
}

// UndefinedNames returns the sorted, de-duplicated placeholder names in
// template that params does not define.
func UndefinedNames(template string, params *interfaces.Parameters) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, name := range Placeholders(template) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if params != nil {
			if _, ok := params.Get(name); ok {
				continue
			}
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

// Placeholders returns the parameter names referenced by template in order of appearance.
func Placeholders(template string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if m[1] != "" {
			names = append(names, m[1])
		} else {
			names = append(names, m[2])
		}
	}
	return names
}

func placeholderName(match string) string {
	m := placeholderPattern.FindStringSubmatch(match)
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
