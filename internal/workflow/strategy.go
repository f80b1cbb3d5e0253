package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// LowConfidenceStrategy decides what to extract with when a table profile is
// below the confidence threshold. It returns the profile to use and a note
// for the run log.
type LowConfidenceStrategy interface {
	Name() string
	Apply(ctx context.Context, resolver schemas.SelectorResolver, profile schemas.TableProfile, snapshot schemas.PageSnapshot) (schemas.TableProfile, string)
}

// StrategyByName returns the strategy configured as engine.low_confidence_strategy.
func StrategyByName(name string) (LowConfidenceStrategy, error) {
	switch strings.ToLower(name) {
	case "", "proceed":
		return ProceedStrategy{}, nil
	case "adapt":
		return AdaptStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown low confidence strategy %q", name)
	}
}

// ProceedStrategy extracts with the profile unchanged. It is the default.
type ProceedStrategy struct{}

func (ProceedStrategy) Name() string { return "proceed" }

func (ProceedStrategy) Apply(_ context.Context, _ schemas.SelectorResolver, profile schemas.TableProfile, _ schemas.PageSnapshot) (schemas.TableProfile, string) {
	return profile, "proceeding with the low-confidence profile"
}

// AdaptStrategy replaces each column locator with the first adapted
// candidate that matches the snapshot. Confidence never increases.
type AdaptStrategy struct{}

func (AdaptStrategy) Name() string { return "adapt" }

func (AdaptStrategy) Apply(ctx context.Context, resolver schemas.SelectorResolver, profile schemas.TableProfile, snapshot schemas.PageSnapshot) (schemas.TableProfile, string) {
	adapted := resolver.Adapt(ctx, profile, snapshot)

	out := profile
	out.Columns = make(map[string]schemas.FieldLocator, len(profile.Columns))
	replaced := 0
	for field, prior := range profile.Columns {
		out.Columns[field] = prior
		for _, c := range adapted.Fields[field] {
			if !c.Matched {
				continue
			}
			if c.Locator != prior.Locator {
				replaced++
			}
			out.Columns[field] = schemas.FieldLocator{
				Locator:    c.Locator,
				Confidence: math.Min(c.Confidence, prior.Confidence),
			}
			break
		}
	}
	out.OverallConfidence = math.Min(profile.OverallConfidence, adapted.OverallConfidence)
	return out, fmt.Sprintf("adapted %d of %d column locators (changes detected: %t)", replaced, len(profile.Columns), adapted.ChangesDetected)
}
