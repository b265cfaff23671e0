// Package analyze asks a language model whether a page is about the
// screened individual and whether it carries adverse media.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/ppiankov/kycscan/internal/jsonx"
	"github.com/ppiankov/kycscan/internal/llm"
	"github.com/ppiankov/kycscan/internal/metrics"
)

// MinContentLength is the shortest page text worth sending to the model
// The pipeline already drops pages under fetch.MinUsableLength, so only
// direct AnalyzeContent callers reach this guard.
const MinContentLength = 50

// Variant identifies which input an analysis was based on
type Variant string

const (
	VariantContent Variant = "content"
	VariantSnippet Variant = "snippet"
)

// Analyzer turns page content or search snippets into validated judgments.
// Its methods never fail: every error becomes a fixed error judgment.
type Analyzer struct {
	provider llm.Provider
	logger   *slog.Logger
}

// New creates an analyzer over an LLM provider
func New(provider llm.Provider, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		provider: provider,
		logger:   logger.With("component", "analyzer"),
	}
}

// AnalyzeContent judges full scraped page content
func (a *Analyzer) AnalyzeContent(ctx context.Context, s Subject, content string) Judgment {
	if utf8.RuneCountInString(content) < MinContentLength {
		metrics.RecordAnalysis(string(VariantContent), "insufficient")
		return InsufficientContent()
	}
	return a.run(ctx, VariantContent, BuildContentPrompt(s, content))
}

// AnalyzeSnippet judges search-result metadata when the page could not be used
func (a *Analyzer) AnalyzeSnippet(ctx context.Context, s Subject, sn Snippet) Judgment {
	return a.run(ctx, VariantSnippet, BuildSnippetPrompt(s, sn))
}

func (a *Analyzer) run(ctx context.Context, v Variant, prompt string) (j Judgment) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("analysis panicked", "variant", v, "panic", r)
			metrics.RecordAnalysis(string(v), "error")
			j = ErrorJudgment(v)
		}
	}()

	if a.provider == nil {
		metrics.RecordAnalysis(string(v), "error")
		return ErrorJudgment(v)
	}

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		System: systemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		a.logger.Warn("LLM call failed", "variant", v, "provider", a.provider.Name(), "error", err)
		metrics.RecordAnalysis(string(v), "error")
		return ErrorJudgment(v)
	}

	j, err = parse(resp.Text)
	if err != nil {
		a.logger.Warn("unusable analysis output", "variant", v, "error", err, "raw", resp.Text)
		metrics.RecordAnalysis(string(v), "invalid")
		return ErrorJudgment(v)
	}

	metrics.RecordAnalysis(string(v), "ok")
	return j.Sanitize()
}

// parse extracts and validates a judgment from raw model output
func parse(text string) (Judgment, error) {
	obj, ok := jsonx.Extract(text)
	if !ok {
		return Judgment{}, fmt.Errorf("no JSON object in response: %w", errInvalidJudgment)
	}
	return decodeJudgment(obj)
}
