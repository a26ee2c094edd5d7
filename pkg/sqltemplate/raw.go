package sqltemplate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
)

// BindRaw substitutes parameter values directly into the template as SQL
// literals. Used only for backends that do not accept parameterized
// queries; prefer Bind wherever backend-native binding is available.
//
// Literal rendering rules:
//   - dates and strings are single-quoted with embedded quotes doubled
//   - string values are screened for injection patterns first
//   - integer lists are validated element-wise and joined with commas;
//     a non-integer element fails the whole bind
//   - the finished query must not contain statement terminators
func BindRaw(template string, values map[string]any) (string, error) {
	for _, name := range ExtractParameters(template) {
		if _, ok := values[name]; !ok {
			return "", fmt.Errorf("parameter {{%s}} referenced but not supplied: %w",
				name, apperrors.ErrMissingParameter)
		}
	}

	var bindErr error
	result := parameterRegex.ReplaceAllStringFunc(template, func(match string) string {
		if bindErr != nil {
			return match
		}
		name := parameterRegex.FindStringSubmatch(match)[1]

		literal, err := renderLiteral(name, values[name])
		if err != nil {
			bindErr = err
			return match
		}
		return literal
	})
	if bindErr != nil {
		return "", bindErr
	}

	validation := ValidateAndNormalize(result)
	if validation.Error != nil {
		return "", validation.Error
	}

	return validation.NormalizedSQL, nil
}

// renderLiteral converts one parameter value into a SQL literal.
func renderLiteral(name string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		// JSON numbers decode as float64; integral values render without
		// a fractional part so id lists stay valid.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return "'" + v.Format("2006-01-02") + "'", nil
	case string:
		return renderStringLiteral(name, v)
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ","), nil
	case []any:
		return renderIntList(name, v)
	default:
		return "", fmt.Errorf("parameter %q has unsupported type %T: %w",
			name, value, apperrors.ErrInvalidParameter)
	}
}

// renderIntList coerces every element to an integer before joining. A single
// non-numeric element rejects the whole list so values like
// "3;DROP TABLE T" can never reach the query text.
func renderIntList(name string, list []any) (string, error) {
	ints, err := intListValues(name, list)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(ints))
	for i, n := range ints {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ","), nil
}

// intListValues validates a list parameter element-wise. A single
// non-integer element rejects the whole list, shared by positional and raw
// binding so both paths enforce the same rule.
func intListValues(name string, list []any) ([]int64, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("parameter %q is an empty list: %w", name, apperrors.ErrInvalidParameter)
	}
	ints := make([]int64, len(list))
	for i, elem := range list {
		n, err := coerceInt(elem)
		if err != nil {
			return nil, fmt.Errorf("parameter %q element %d is not an integer: %w",
				name, i, apperrors.ErrInvalidParameter)
		}
		ints[i] = n
	}
	return ints, nil
}

func coerceInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("fractional value")
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// renderStringLiteral screens a string value for injection patterns and
// quotes it. Dates arrive as strings from the UI, so YYYY-MM-DD values pass
// through here too.
func renderStringLiteral(name, value string) (string, error) {
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return "", fmt.Errorf("parameter %q matches injection fingerprint %s: %w",
			name, string(fingerprint), apperrors.ErrInvalidParameter)
	}
	if strings.ContainsAny(value, ";") {
		return "", fmt.Errorf("parameter %q contains a statement terminator: %w",
			name, apperrors.ErrInvalidParameter)
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'", nil
}
