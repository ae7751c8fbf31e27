package view

import (
	"fmt"
	"strings"
)

// FormatPath expands a view's path template against a token map. Tokens are
// written as {name}; doubled braces produce literal braces. An unknown token
// or unbalanced brace is a configuration error reported with the offending
// template.
func FormatPath(format string, tokens map[string]string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); {
		switch format[i] {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("invalid path format %q: unbalanced braces", format)
			}
			name := format[i+1 : i+end]
			value, ok := tokens[name]
			if !ok {
				return "", fmt.Errorf("invalid path format %q: unknown token {%s}", format, name)
			}
			b.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", fmt.Errorf("invalid path format %q: unbalanced braces", format)
		default:
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String(), nil
}
