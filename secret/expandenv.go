package secret

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ExpandEnvStrict expands ${VAR} and ${VAR:-default} references in s.
//
// A reference to an unset variable with no default is an error naming every
// such variable. The default applies when VAR is unset or empty. "$$" emits a
// literal "$"; any other "$" is kept as written, so passwords containing "$"
// survive unquoted.
func ExpandEnvStrict(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var (
		b       strings.Builder
		missing []string
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '$':
			b.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				return b.String(), nil
			}
			ref := s[i+2 : i+2+end]
			name, def, hasDef := strings.Cut(ref, ":-")
			if !envNamePattern.MatchString(name) {
				return "", fmt.Errorf("invalid environment reference ${%s}", ref)
			}
			v, ok := os.LookupEnv(name)
			switch {
			case ok && (v != "" || !hasDef):
				b.WriteString(v)
			case hasDef:
				b.WriteString(def)
			default:
				missing = append(missing, name)
			}
			i += 2 + end
		default:
			b.WriteByte('$')
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		missing = slices.Compact(missing)
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return b.String(), nil
}
