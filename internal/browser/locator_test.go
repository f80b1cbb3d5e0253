package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAlternatives(t *testing.T) {
	tests := []struct {
		name     string
		locator  string
		expected []string
	}{
		{"single", "table#users tbody tr", []string{"table#users tbody tr"}},
		{"two css", "input[name='name'], input[id='name']", []string{"input[name='name']", "input[id='name']"}},
		{"comma in quotes", `button:has-text("Save, close"), a`, []string{`button:has-text("Save, close")`, "a"}},
		{"comma in brackets", `[data-x="a,b"] td`, []string{`[data-x="a,b"] td`}},
		{"comma in parens", `//*[contains(., 'x')], b`, []string{`//*[contains(., 'x')]`, "b"}},
		{"empty parts dropped", " a ,, b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitAlternatives(tt.locator))
		})
	}
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		name     string
		locator  string
		expected []query
	}{
		{
			name:     "plain css",
			locator:  "td:nth-child(2)",
			expected: []query{{kind: queryCSS, expr: "td:nth-child(2)"}},
		},
		{
			name:     "has-text filter",
			locator:  `button:has-text("Add User")`,
			expected: []query{{kind: queryCSS, expr: "button", text: "Add User"}},
		},
		{
			name:     "contains filter without base",
			locator:  `:contains('Email')`,
			expected: []query{{kind: queryCSS, expr: "*", text: "Email"}},
		},
		{
			name:     "escaped quote in has-text",
			locator:  `tr:has-text("say \"hi\"")`,
			expected: []query{{kind: queryCSS, expr: "tr", text: `say "hi"`}},
		},
		{
			name:     "text locator",
			locator:  `text="User Management"`,
			expected: []query{{kind: queryXPath, expr: `//*[normalize-space(.)='User Management' and not(*[normalize-space(.)='User Management'])]`}},
		},
		{
			name:     "text locator collapses whitespace",
			locator:  `text="  User   1 "`,
			expected: []query{{kind: queryXPath, expr: `//*[normalize-space(.)='User 1' and not(*[normalize-space(.)='User 1'])]`}},
		},
		{
			name:     "explicit xpath and css prefixes",
			locator:  "xpath=//table, css=div.grid",
			expected: []query{{kind: queryXPath, expr: "//table"}, {kind: queryCSS, expr: "div.grid"}},
		},
		{
			name:     "bare xpath",
			locator:  "//button[@type='submit']",
			expected: []query{{kind: queryXPath, expr: "//button[@type='submit']"}},
		},
		{
			name:    "mixed alternatives",
			locator: `button:has-text("Remove"), button:has-text("Delete")`,
			expected: []query{
				{kind: queryCSS, expr: "button", text: "Remove"},
				{kind: queryCSS, expr: "button", text: "Delete"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLocator(tt.locator)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseLocator_Invalid(t *testing.T) {
	_, err := parseLocator("  ")
	assert.Error(t, err)

	_, err = parseLocator(`text=""`)
	assert.Error(t, err)
}

func TestTextXPath_ExactMatch(t *testing.T) {
	expr := textXPath("ann@corp.com")
	assert.NotContains(t, expr, "contains(", "text= must not match substrings like joann@corp.com")
	assert.Contains(t, expr, "normalize-space(.)='ann@corp.com'")
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", xpathLiteral("plain"))
	assert.Equal(t, `"O'Brien"`, xpathLiteral("O'Brien"))
	assert.Equal(t, `concat('say "it', "'", 's"')`, xpathLiteral(`say "it's"`))
	assert.Equal(t, `concat("'", '"')`, xpathLiteral(`'"`))
}

func TestContainsText(t *testing.T) {
	assert.True(t, containsText("  Alice \n Smith ", "alice smith"))
	assert.True(t, containsText("Delete user", "DELETE"))
	assert.False(t, containsText("Remove", "Delete"))
}
