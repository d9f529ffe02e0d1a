package agent

import "regexp"

// Filter redacts credential material from user-submitted text before it
// reaches session storage or the model. Error descriptions routinely
// contain pasted connection strings and tokens; none of that is needed
// for diagnosis.
type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter builds the filter with its standard pattern set.
func NewFilter() *Filter {
	return &Filter{
		patterns: []*regexp.Regexp{
			// key=value credential assignments in connection strings and env dumps
			regexp.MustCompile(`(?i)(password|pwd|secret|accountkey|sharedaccesskey|sharedaccesssignature|client_secret|api[_-]?key|sig)\s*[=:]\s*[^\s;,&"']+`),
			// bearer tokens in pasted headers
			regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.~+/]+=*`),
			// JWTs pasted raw
			regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`),
		},
	}
}

// Redact replaces credential material in s with a placeholder.
func (f *Filter) Redact(s string) string {
	for _, p := range f.patterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// RedactMap redacts every string value in the context, recursing into
// nested maps and slices. The input is not mutated.
func (f *Filter) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = f.redactValue(v)
	}
	return out
}

func (f *Filter) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return f.Redact(val)
	case map[string]any:
		return f.RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = f.redactValue(item)
		}
		return out
	default:
		return v
	}
}
