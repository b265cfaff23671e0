package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/kycscan/internal/model"
	"github.com/ppiankov/kycscan/internal/progress"
)

// Screener runs one screening to completion and returns its final event
type Screener interface {
	Screen(ctx context.Context, req model.SearchRequest) (progress.Event, error)
}

// Outcome is the result of screening one batch target
type Outcome struct {
	Target   model.SearchRequest
	SearchID string
	Summary  *model.Summary
	Duration time.Duration
	Err      error
}

// BatchProcessor screens many targets concurrently
type BatchProcessor struct {
	screener    Screener
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(screener Screener, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		screener:    screener,
		concurrency: concurrency,
	}
}

// Process screens targets and returns one outcome per target, in order
func (b *BatchProcessor) Process(ctx context.Context, targets []model.SearchRequest) []Outcome {
	outcomes := Map(ctx, b.concurrency, targets, func(ctx context.Context, req model.SearchRequest) Outcome {
		start := time.Now()
		final, err := b.screener.Screen(ctx, req)
		out := Outcome{
			Target:   req,
			SearchID: final.SearchID,
			Summary:  final.Summary,
			Duration: time.Since(start),
			Err:      err,
		}
		if out.Err == nil && final.Error != "" {
			out.Err = errors.New(final.Error)
		}
		return out
	})

	// Targets skipped by cancellation
	for i := range outcomes {
		if outcomes[i].Target.IndividualName == "" {
			outcomes[i].Target = targets[i]
			outcomes[i].Err = context.Cause(ctx)
		}
	}
	return outcomes
}

// ProcessFile reads targets from a file and screens them with keywords
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string, keywords []string) ([]Outcome, error) {
	targets, err := ReadTargets(filePath, keywords)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return b.Process(ctx, targets), nil
}

// ReadTargets reads one target per line as name|company|info. Company and
// info are optional. Blank lines and # comments are skipped, duplicates dropped.
func ReadTargets(filePath string, keywords []string) ([]model.SearchRequest, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var targets []model.SearchRequest
	seen := make(map[model.Identity]bool)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, "|", 3)
		req := model.SearchRequest{IndividualName: fields[0]}
		if len(fields) > 1 {
			req.CompanyName = fields[1]
		}
		if len(fields) > 2 {
			req.AdditionalInfo = fields[2]
		}
		req = req.Normalize()
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		req.KeywordTags = append([]string(nil), keywords...)

		if !seen[req.Identity()] {
			seen[req.Identity()] = true
			targets = append(targets, req)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return targets, nil
}
