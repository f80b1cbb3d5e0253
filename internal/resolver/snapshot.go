package resolver

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const maxGenericColumns = 12

// parseSnapshot parses page HTML into a goquery document.
func parseSnapshot(raw string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot HTML: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// headerColumns derives logical column names from the first table of the
// document. Header cells are preferred; without them the cell count of the
// first data row determines how many positional columns exist.
func headerColumns(doc *goquery.Document) []string {
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil
	}

	headers := table.Find("thead th")
	if headers.Length() == 0 {
		headers = table.Find("tr").First().Find("th")
	}

	var names []string
	seen := make(map[string]int)
	headers.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= maxGenericColumns {
			return false
		}
		name := fieldName(s.Text())
		if name == "" {
			name = fmt.Sprintf("col%d", i+1)
		}
		seen[name]++
		if seen[name] > 1 {
			name = fmt.Sprintf("%s_%d", name, seen[name])
		}
		names = append(names, name)
		return true
	})
	if len(names) > 0 {
		return names
	}

	cells := table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("td").Length() > 0
	}).First().Find("td").Length()
	if cells > maxGenericColumns {
		cells = maxGenericColumns
	}
	for i := 0; i < cells; i++ {
		names = append(names, fmt.Sprintf("col%d", i+1))
	}
	return names
}

// fieldName normalizes header text to a snake_case field name.
func fieldName(text string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// toCascadia rewrites the :has-text() pseudo class, which CSS engines do not
// know, into the :contains() form goquery understands.
func toCascadia(locator string) string {
	return strings.ReplaceAll(locator, ":has-text(", ":contains(")
}

// matches reports whether locator selects anything inside scope. Locators
// goquery cannot compile simply match nothing.
func matches(scope *goquery.Selection, locator string) bool {
	if strings.HasPrefix(locator, "text=") || strings.HasPrefix(locator, "xpath=") {
		return false
	}
	return scope.Find(toCascadia(locator)).Length() > 0
}

// compactSnapshot strips non-structural elements and truncates the body HTML
// to at most limit bytes.
func compactSnapshot(doc *goquery.Document, limit int) string {
	doc.Find("script, style, svg, noscript, link, meta").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	out, err := goquery.OuterHtml(body)
	if err != nil {
		out = body.Text()
	}
	out = strings.Join(strings.Fields(out), " ")
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
