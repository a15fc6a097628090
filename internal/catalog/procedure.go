package catalog

import "strings"

// Expand replaces every ":name" parameter reference in expr with the text
// returned by param. Identifiers are [A-Za-z0-9_]; "::" is left alone.
func Expand(expr string, param func(name string) string) string {
	var b strings.Builder
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		if ch == '\'' {
			// copy string literals verbatim
			end := strings.IndexByte(expr[i+1:], '\'')
			if end < 0 {
				b.WriteString(expr[i:])
				break
			}
			b.WriteString(expr[i : i+end+2])
			i += end + 1
			continue
		}
		if ch != ':' || i+1 >= len(expr) || !isIdent(expr[i+1]) || (i > 0 && expr[i-1] == ':') {
			b.WriteByte(ch)
			continue
		}
		j := i + 1
		for j < len(expr) && isIdent(expr[j]) {
			j++
		}
		b.WriteString(param(expr[i+1 : j]))
		i = j - 1
	}
	return b.String()
}

// ParamRefs lists the parameter names referenced by expr, in order of
// appearance, repeats included.
func ParamRefs(expr string) []string {
	var names []string
	Expand(expr, func(name string) string {
		names = append(names, name)
		return ""
	})
	return names
}

func isIdent(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
