package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/llmutil"
)

// Generator produces a model completion for a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeminiGenerator implements Generator over the Gemini API.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	callTimeout time.Duration
	maxElapsed  time.Duration
	logger      *zap.Logger
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		callTimeout: cfg.APITimeout,
		maxElapsed:  cfg.MaxRetryElapsed,
		logger:      logger.Named("llm.gemini"),
	}, nil
}

// Generate calls the model with exponential backoff on failures.
func (g *GeminiGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	temperature := g.temperature
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.maxElapsed
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		callCtx := ctx
		if g.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(userPrompt), genCfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			g.logger.Warn("LLM request failed, retrying...", zap.Error(err))
			return err
		}
		out := resp.Text()
		if strings.TrimSpace(out) == "" {
			return backoff.Permanent(errors.New("gemini returned no text content"))
		}
		g.logger.Debug("LLM generation complete.", zap.Duration("duration", time.Since(start)), zap.Int("chars", len(out)))
		text = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

const tableSystemPrompt = `You analyze HTML from web administration portals and locate data tables.
Respond with a single JSON object:
{"row_locator": "<CSS selector matching one element per data row>",
 "columns": {"<snake_case field>": {"locator": "<CSS selector relative to the row>", "confidence": <0..1>}},
 "column_order": ["<field>", ...],
 "next_page_locator": "<CSS selector of the next-page control, or empty>",
 "overall_confidence": <0..1>}
Prefer the field names name, email, role, status and last_login when the data fits them.`

const formSystemPrompt = `You analyze HTML from web administration portals and locate entity creation forms.
Respond with a single JSON object:
{"fields": {"<snake_case field>": {"locator": "<CSS selector of the input or select>", "confidence": <0..1>}},
 "submit_locator": "<CSS selector of the submit control>",
 "overall_confidence": <0..1>}
Prefer the field names name, email and role when the inputs fit them.`

// LLMResolver asks a model for profiles and falls back to another resolver
// whenever the model fails or answers with something unusable.
type LLMResolver struct {
	gen              Generator
	fallback         schemas.SelectorResolver
	maxSnapshotBytes int
	logger           *zap.Logger
}

var _ schemas.SelectorResolver = (*LLMResolver)(nil)

// NewLLMResolver creates an LLMResolver.
func NewLLMResolver(gen Generator, fallback schemas.SelectorResolver, maxSnapshotBytes int, logger *zap.Logger) *LLMResolver {
	return &LLMResolver{
		gen:              gen,
		fallback:         fallback,
		maxSnapshotBytes: maxSnapshotBytes,
		logger:           logger.Named("llm_resolver"),
	}
}

func (r *LLMResolver) AnalyzeTable(ctx context.Context, snapshot schemas.PageSnapshot, taskContext string) schemas.TableProfile {
	profile, err := r.analyzeTable(ctx, snapshot, taskContext)
	if err != nil {
		r.logger.Warn("LLM table analysis unusable; falling back to rules.", zap.Error(err))
		return r.fallback.AnalyzeTable(ctx, snapshot, taskContext)
	}
	return profile
}

func (r *LLMResolver) analyzeTable(ctx context.Context, snapshot schemas.PageSnapshot, taskContext string) (schemas.TableProfile, error) {
	prompt, err := r.userPrompt(snapshot, taskContext)
	if err != nil {
		return schemas.TableProfile{}, err
	}
	raw, err := r.gen.Generate(ctx, tableSystemPrompt, prompt)
	if err != nil {
		return schemas.TableProfile{}, err
	}
	parsed, err := llmutil.ParseJSONResponse[schemas.TableProfile](raw)
	if err != nil {
		return schemas.TableProfile{}, err
	}

	profile := *parsed
	if strings.TrimSpace(profile.RowLocator) == "" {
		return schemas.TableProfile{}, errors.New("model returned no row locator")
	}
	columns := make(map[string]schemas.FieldLocator, len(profile.Columns))
	for name, loc := range profile.Columns {
		if name == "" || strings.TrimSpace(loc.Locator) == "" {
			continue
		}
		loc.Confidence = clamp01(loc.Confidence)
		columns[name] = loc
	}
	if len(columns) == 0 {
		return schemas.TableProfile{}, errors.New("model returned no usable columns")
	}
	profile.Columns = columns
	profile.ColumnOrder = orderedFields(profile)
	profile.OverallConfidence = clamp01(profile.OverallConfidence)
	profile.Signature = "llm"
	return profile, nil
}

func (r *LLMResolver) AnalyzeForm(ctx context.Context, snapshot schemas.PageSnapshot, taskContext string) schemas.FormProfile {
	profile, err := r.analyzeForm(ctx, snapshot, taskContext)
	if err != nil {
		r.logger.Warn("LLM form analysis unusable; falling back to rules.", zap.Error(err))
		return r.fallback.AnalyzeForm(ctx, snapshot, taskContext)
	}
	return profile
}

func (r *LLMResolver) analyzeForm(ctx context.Context, snapshot schemas.PageSnapshot, taskContext string) (schemas.FormProfile, error) {
	prompt, err := r.userPrompt(snapshot, taskContext)
	if err != nil {
		return schemas.FormProfile{}, err
	}
	raw, err := r.gen.Generate(ctx, formSystemPrompt, prompt)
	if err != nil {
		return schemas.FormProfile{}, err
	}
	parsed, err := llmutil.ParseJSONResponse[schemas.FormProfile](raw)
	if err != nil {
		return schemas.FormProfile{}, err
	}

	profile := *parsed
	fields := make(map[string]schemas.FieldLocator, len(profile.Fields))
	for name, loc := range profile.Fields {
		if name == "" || strings.TrimSpace(loc.Locator) == "" {
			continue
		}
		loc.Confidence = clamp01(loc.Confidence)
		fields[name] = loc
	}
	if len(fields) == 0 {
		return schemas.FormProfile{}, errors.New("model returned no usable fields")
	}
	profile.Fields = fields
	profile.OverallConfidence = clamp01(profile.OverallConfidence)
	profile.Signature = "llm"
	return profile, nil
}

// Adapt is deterministic and always handled by the fallback resolver.
func (r *LLMResolver) Adapt(ctx context.Context, prior schemas.TableProfile, snapshot schemas.PageSnapshot) schemas.AdaptedProfile {
	return r.fallback.Adapt(ctx, prior, snapshot)
}

func (r *LLMResolver) userPrompt(snapshot schemas.PageSnapshot, taskContext string) (string, error) {
	doc, err := parseSnapshot(snapshot.HTML)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task context: %s\nPage URL: %s\nHTML:\n%s",
		taskContext, snapshot.URL, compactSnapshot(doc, r.maxSnapshotBytes)), nil
}
