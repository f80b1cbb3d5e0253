package browser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type queryKind int

const (
	queryCSS queryKind = iota
	queryXPath
)

// query is one compiled locator alternative. A non-empty text restricts CSS
// matches to elements whose rendered text contains it (case-insensitive).
type query struct {
	kind queryKind
	expr string
	text string
}

var textFilterRegex = regexp.MustCompile(`^(.*?):(?:has-text|contains)\(\s*("(?:[^"\\]|\\.)*"|'[^']*')\s*\)$`)

// parseLocator compiles a locator into its ordered alternatives.
func parseLocator(locator string) ([]query, error) {
	parts := splitAlternatives(locator)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty locator")
	}
	queries := make([]query, 0, len(parts))
	for _, part := range parts {
		q, err := parseAlternative(part)
		if err != nil {
			return nil, fmt.Errorf("invalid locator %q: %w", locator, err)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

func parseAlternative(part string) (query, error) {
	switch {
	case strings.HasPrefix(part, "text="):
		text, err := unquote(strings.TrimSpace(strings.TrimPrefix(part, "text=")))
		if err != nil {
			return query{}, err
		}
		if text == "" {
			return query{}, fmt.Errorf("text locator needs a value")
		}
		return query{kind: queryXPath, expr: textXPath(text)}, nil
	case strings.HasPrefix(part, "xpath="):
		return query{kind: queryXPath, expr: strings.TrimPrefix(part, "xpath=")}, nil
	case strings.HasPrefix(part, "//") || strings.HasPrefix(part, "(//"):
		return query{kind: queryXPath, expr: part}, nil
	case strings.HasPrefix(part, "css="):
		part = strings.TrimPrefix(part, "css=")
	}

	if m := textFilterRegex.FindStringSubmatch(part); m != nil {
		text, err := unquote(m[2])
		if err != nil {
			return query{}, err
		}
		base := strings.TrimSpace(m[1])
		if base == "" {
			base = "*"
		}
		return query{kind: queryCSS, expr: base, text: text}, nil
	}
	return query{kind: queryCSS, expr: part}, nil
}

// splitAlternatives splits on commas outside quotes, parentheses and brackets.
func splitAlternatives(locator string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	flush := func(end int) {
		if p := strings.TrimSpace(locator[start:end]); p != "" {
			parts = append(parts, p)
		}
	}
	for i, r := range locator {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(locator))
	return parts
}

func unquote(s string) (string, error) {
	switch {
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		return strconv.Unquote(s)
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return s[1 : len(s)-1], nil
	default:
		return s, nil
	}
}

// textXPath selects the innermost elements whose whitespace-normalised text
// equals text exactly. Substring matching is what :has-text is for.
func textXPath(text string) string {
	lit := xpathLiteral(strings.Join(strings.Fields(text), " "))
	return fmt.Sprintf("//*[normalize-space(.)=%s and not(*[normalize-space(.)=%s])]", lit, lit)
}

// xpathLiteral quotes s as an XPath 1.0 string literal, which has no escapes.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	pieces := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(pieces))
	for i, p := range pieces {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// containsText reports whether rendered text contains want, ignoring case
// and collapsing whitespace.
func containsText(rendered, want string) bool {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return strings.Contains(norm(rendered), norm(want))
}
