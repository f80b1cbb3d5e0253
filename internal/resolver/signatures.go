package resolver

import (
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// TableSignature is a known application layout for listings. It matches when
// any of its tokens occurs in the task context.
type TableSignature struct {
	Name    string
	Tokens  []string
	Profile schemas.TableProfile
}

// FormSignature is a known application layout for creation forms.
type FormSignature struct {
	Name    string
	Tokens  []string
	Profile schemas.FormProfile
}

// Signatures is the registry consulted by the RuleResolver.
type Signatures struct {
	Tables []TableSignature
	Forms  []FormSignature
}

const userManagementSignature = "user-management"

// DefaultSignatures returns the built-in registry for the user management portal.
func DefaultSignatures() Signatures {
	return Signatures{
		Tables: []TableSignature{{
			Name:   userManagementSignature,
			Tokens: []string{"mock-saas", "users"},
			Profile: schemas.TableProfile{
				Signature:  userManagementSignature,
				RowLocator: "table#users tbody tr",
				Columns: map[string]schemas.FieldLocator{
					schemas.FieldName:      {Locator: "td:nth-child(1)", Confidence: 0.95},
					schemas.FieldEmail:     {Locator: "td:nth-child(2)", Confidence: 0.95},
					schemas.FieldRole:      {Locator: "td:nth-child(3)", Confidence: 0.90},
					schemas.FieldStatus:    {Locator: "td:nth-child(4)", Confidence: 0.90},
					schemas.FieldLastLogin: {Locator: "td:nth-child(5)", Confidence: 0.85},
				},
				ColumnOrder: []string{
					schemas.FieldName, schemas.FieldEmail, schemas.FieldRole,
					schemas.FieldStatus, schemas.FieldLastLogin,
				},
				NextPageLocator:   "button:has-text('Next')",
				OverallConfidence: 0.92,
			},
		}},
		Forms: []FormSignature{{
			Name:   userManagementSignature,
			Tokens: []string{"add-user", "create"},
			Profile: schemas.FormProfile{
				Signature: userManagementSignature,
				Fields: map[string]schemas.FieldLocator{
					schemas.FieldName:  {Locator: "input[name='name'], input[id='name']", Confidence: 0.95},
					schemas.FieldEmail: {Locator: "input[name='email'], input[id='email']", Confidence: 0.95},
					schemas.FieldRole:  {Locator: "select[name='role'], select[id='role']", Confidence: 0.90},
				},
				SubmitLocator:     "button[type='submit'], button:has-text('Create')",
				OverallConfidence: 0.92,
			},
		}},
	}
}

func matchesTokens(taskContext string, tokens []string) bool {
	ctx := strings.ToLower(taskContext)
	for _, token := range tokens {
		if token != "" && strings.Contains(ctx, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

func (s Signatures) table(taskContext string) (schemas.TableProfile, bool) {
	for _, sig := range s.Tables {
		if matchesTokens(taskContext, sig.Tokens) {
			return cloneTable(sig.Profile), true
		}
	}
	return schemas.TableProfile{}, false
}

func (s Signatures) form(taskContext string) (schemas.FormProfile, bool) {
	for _, sig := range s.Forms {
		if matchesTokens(taskContext, sig.Tokens) {
			return cloneForm(sig.Profile), true
		}
	}
	return schemas.FormProfile{}, false
}

func cloneTable(p schemas.TableProfile) schemas.TableProfile {
	out := p
	out.Columns = make(map[string]schemas.FieldLocator, len(p.Columns))
	for k, v := range p.Columns {
		out.Columns[k] = v
	}
	out.ColumnOrder = append([]string(nil), p.ColumnOrder...)
	return out
}

func cloneForm(p schemas.FormProfile) schemas.FormProfile {
	out := p
	out.Fields = make(map[string]schemas.FieldLocator, len(p.Fields))
	for k, v := range p.Fields {
		out.Fields[k] = v
	}
	return out
}
