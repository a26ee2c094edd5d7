// Package sqltemplate binds named report parameters into SQL templates.
package sqltemplate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
)

// parameterRegex matches {{parameter_name}} placeholders in SQL templates.
// Parameter names must start with a letter or underscore, followed by any
// number of alphanumeric characters or underscores.
var parameterRegex = regexp.MustCompile(`\{\{([a-zA-Z_]\w*)\}\}`)

// ExtractParameters finds all {{param}} placeholders in a template and
// returns a deduplicated list of parameter names in order of first
// appearance.
//
// Example:
//
//	sql := "SELECT * FROM Sales WHERE BranchID = {{branch_id}} AND Total > {{min_total}}"
//	params := ExtractParameters(sql)
//	// params == []string{"branch_id", "min_total"}
func ExtractParameters(template string) []string {
	matches := parameterRegex.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var params []string

	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			params = append(params, name)
		}
	}

	return params
}

// Bind replaces {{param}} placeholders with positional parameters ($1, $2,
// ...) and returns the prepared SQL along with ordered values for
// backend-native binding. The same placeholder used multiple times reuses
// its positions.
//
// Every placeholder referenced by the template must be present in values;
// otherwise Bind fails fast with ErrMissingParameter rather than emitting a
// partially-substituted query. List-typed values are validated element-wise
// and expanded to one position per element so IN clauses bind natively; a
// non-integer element fails the whole bind with ErrInvalidParameter.
func Bind(template string, values map[string]any) (string, []any, error) {
	for _, name := range ExtractParameters(template) {
		if _, ok := values[name]; !ok {
			return "", nil, fmt.Errorf("parameter {{%s}} referenced but not supplied: %w",
				name, apperrors.ErrMissingParameter)
		}
	}

	var orderedValues []any
	paramIndex := 1
	fragments := make(map[string]string)
	var bindErr error

	result := parameterRegex.ReplaceAllStringFunc(template, func(match string) string {
		if bindErr != nil {
			return match
		}
		name := parameterRegex.FindStringSubmatch(match)[1]

		if frag, exists := fragments[name]; exists {
			return frag
		}

		frag, args, err := bindPlaceholder(name, values[name], paramIndex)
		if err != nil {
			bindErr = err
			return match
		}
		fragments[name] = frag
		orderedValues = append(orderedValues, args...)
		paramIndex += len(args)
		return frag
	})
	if bindErr != nil {
		return "", nil, bindErr
	}

	return result, orderedValues, nil
}

// bindPlaceholder renders the positional markers for one parameter starting
// at position start. Scalars take a single position; integer lists expand to
// one position per validated element.
func bindPlaceholder(name string, value any, start int) (string, []any, error) {
	switch v := value.(type) {
	case []any:
		ints, err := intListValues(name, v)
		if err != nil {
			return "", nil, err
		}
		return positionalList(start, len(ints)), intsToArgs(ints), nil
	case []int:
		if len(v) == 0 {
			return "", nil, fmt.Errorf("parameter %q is an empty list: %w",
				name, apperrors.ErrInvalidParameter)
		}
		args := make([]any, len(v))
		for i, n := range v {
			args[i] = n
		}
		return positionalList(start, len(v)), args, nil
	default:
		return fmt.Sprintf("$%d", start), []any{value}, nil
	}
}

// positionalList renders "$start,$start+1,..." for count positions.
func positionalList(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func intsToArgs(ints []int64) []any {
	args := make([]any, len(ints))
	for i, n := range ints {
		args[i] = n
	}
	return args
}
