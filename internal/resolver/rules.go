// Package resolver turns page snapshots into locator profiles. The
// RuleResolver is deterministic: a small registry of known application
// signatures backed by generic structural fallbacks. The LLMResolver asks a
// model first and falls back to the rules.
package resolver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

const (
	genericSignature = "generic"

	genericRowLocator       = "table tbody tr, table tr"
	genericColumnConfidence = 0.70
	genericTableConfidence  = 0.65
	genericFormConfidence   = 0.50
	defaultGenericColumns   = 3
	adaptedOverallCeiling   = 0.85
	adaptConfidenceFloor    = 0.6
	adaptConfidenceStep     = 0.1
)

// RuleResolver implements schemas.SelectorResolver with signature rules.
type RuleResolver struct {
	signatures Signatures
	logger     *zap.Logger
}

var _ schemas.SelectorResolver = (*RuleResolver)(nil)

// NewRuleResolver creates a RuleResolver over the given registry.
func NewRuleResolver(logger *zap.Logger, signatures Signatures) *RuleResolver {
	return &RuleResolver{
		signatures: signatures,
		logger:     logger.Named("rule_resolver"),
	}
}

// AnalyzeTable returns the profile of the first matching signature, or a
// generic profile derived from the snapshot's table headers.
func (r *RuleResolver) AnalyzeTable(_ context.Context, snapshot schemas.PageSnapshot, taskContext string) schemas.TableProfile {
	if profile, ok := r.signatures.table(taskContext); ok {
		r.logger.Debug("Table signature matched.", zap.String("signature", profile.Signature))
		return profile
	}

	var names []string
	if doc, err := parseSnapshot(snapshot.HTML); err == nil {
		names = headerColumns(doc)
	} else {
		r.logger.Debug("Snapshot unreadable; using positional columns.", zap.Error(err))
	}
	if len(names) == 0 {
		for i := 1; i <= defaultGenericColumns; i++ {
			names = append(names, fmt.Sprintf("col%d", i))
		}
	}

	profile := schemas.TableProfile{
		Signature:         genericSignature,
		RowLocator:        genericRowLocator,
		Columns:           make(map[string]schemas.FieldLocator, len(names)),
		ColumnOrder:       names,
		OverallConfidence: genericTableConfidence,
	}
	for i, name := range names {
		profile.Columns[name] = schemas.FieldLocator{
			Locator:    fmt.Sprintf("td:nth-child(%d)", i+1),
			Confidence: genericColumnConfidence,
		}
	}
	r.logger.Debug("No table signature matched; using generic profile.", zap.Strings("columns", names))
	return profile
}

// AnalyzeForm returns the profile of the first matching form signature. The
// generic profile has no fields, so the caller fills nothing.
func (r *RuleResolver) AnalyzeForm(_ context.Context, _ schemas.PageSnapshot, taskContext string) schemas.FormProfile {
	if profile, ok := r.signatures.form(taskContext); ok {
		return profile
	}
	return schemas.FormProfile{
		Signature:         genericSignature,
		Fields:            map[string]schemas.FieldLocator{},
		OverallConfidence: genericFormConfidence,
	}
}

// Adapt proposes ordered fallback candidates for every column of prior and
// marks which of them still match the snapshot. Confidences never exceed the
// prior's. On any internal failure the original locators are returned alone.
func (r *RuleResolver) Adapt(_ context.Context, prior schemas.TableProfile, snapshot schemas.PageSnapshot) (adapted schemas.AdaptedProfile) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic during adaptation; keeping original locators.", zap.Any("panic", rec))
			adapted = originalOnly(prior)
		}
	}()

	doc, err := parseSnapshot(snapshot.HTML)
	if err != nil {
		r.logger.Warn("Adaptation could not parse snapshot; keeping original locators.", zap.Error(err))
		return originalOnly(prior)
	}

	scope := doc.Selection
	changes := false
	if prior.RowLocator != "" {
		if rows := doc.Find(toCascadia(prior.RowLocator)); rows.Length() > 0 {
			scope = rows
		} else {
			changes = true
		}
	}

	adapted = schemas.AdaptedProfile{
		Prior:             cloneTable(prior),
		Fields:            make(map[string][]schemas.Candidate, len(prior.Columns)),
		OverallConfidence: math.Min(clamp01(prior.OverallConfidence), adaptedOverallCeiling),
	}
	for _, field := range orderedFields(prior) {
		loc := prior.Columns[field]
		candidates := make([]schemas.Candidate, 0, 4)
		for i, c := range candidateLocators(field, loc.Locator) {
			candidates = append(candidates, schemas.Candidate{
				Locator:    c.locator,
				Confidence: candidateConfidence(loc.Confidence, i),
				Strategy:   c.strategy,
				Matched:    matches(scope, c.locator),
			})
		}
		if !candidates[0].Matched {
			changes = true
		}
		adapted.Fields[field] = candidates
	}
	adapted.ChangesDetected = changes
	return adapted
}

type candidateLocator struct {
	locator  string
	strategy schemas.CandidateStrategy
}

func candidateLocators(field, original string) []candidateLocator {
	return []candidateLocator{
		{original, schemas.StrategyOriginal},
		{fmt.Sprintf("[data-testid='%s']", field), schemas.StrategyAttribute},
		{fmt.Sprintf(".%s-column", strings.ReplaceAll(field, "_", "-")), schemas.StrategyClass},
		{fmt.Sprintf("td:contains('%s')", displayName(field)), schemas.StrategyText},
	}
}

// candidateConfidence decays with the candidate index down to the floor and
// is capped by the prior confidence.
func candidateConfidence(prior float64, index int) float64 {
	prior = clamp01(prior)
	return math.Min(prior, math.Max(adaptConfidenceFloor, prior-adaptConfidenceStep*float64(index)))
}

func originalOnly(prior schemas.TableProfile) schemas.AdaptedProfile {
	out := schemas.AdaptedProfile{
		Prior:             cloneTable(prior),
		Fields:            make(map[string][]schemas.Candidate, len(prior.Columns)),
		OverallConfidence: math.Min(clamp01(prior.OverallConfidence), adaptConfidenceFloor),
	}
	for field, loc := range prior.Columns {
		out.Fields[field] = []schemas.Candidate{{
			Locator:    loc.Locator,
			Confidence: math.Min(clamp01(loc.Confidence), adaptConfidenceFloor),
			Strategy:   schemas.StrategyOriginal,
		}}
	}
	return out
}

// orderedFields lists the profile's columns in ColumnOrder first, then any
// remaining ones alphabetically.
func orderedFields(p schemas.TableProfile) []string {
	seen := make(map[string]bool, len(p.Columns))
	out := make([]string, 0, len(p.Columns))
	for _, name := range p.ColumnOrder {
		if _, ok := p.Columns[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range p.Columns {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// displayName turns "last_login" into "Last Login".
func displayName(field string) string {
	parts := strings.FieldsFunc(field, func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, " ")
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
