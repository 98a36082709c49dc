package plugins

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/factcore/pkg/objects"
)

// AnalysisResult is what gets stored for one plugin run on one file
type AnalysisResult struct {
	Plugin        string    `json:"plugin"`
	PluginVersion string    `json:"plugin_version"`
	SystemVersion string    `json:"system_version,omitempty"`
	AnalysisDate  time.Time `json:"analysis_date"`
	Result        any       `json:"result"`
	Summary       []string  `json:"summary"`
}

// RunAnalysis runs p on file within the plugin's timeout and checks the
// result against its output schema.
func RunAnalysis(ctx context.Context, p AnalysisPlugin, file io.Reader, vfp objects.VirtualFilePath, analyses map[string]any) (*AnalysisResult, error) {
	md := p.MetaData()
	ctx, span := tracer.Start(ctx, "plugins.Analyze",
		trace.WithAttributes(
			attribute.String("plugins.name", md.Name),
			attribute.String("plugins.vfp", string(vfp)),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, md.EffectiveTimeout())
	defer cancel()

	fail := func(msg string, err error) (*AnalysisResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, fmt.Errorf("%s %s: %w", msg, md.Name, err)
	}

	result, err := p.Analyze(ctx, file, vfp, analyses)
	if err != nil {
		return fail("analysis failed for", err)
	}
	if ctx.Err() != nil {
		return fail("analysis timed out for", ctx.Err())
	}

	schema, err := OutputSchemaFor(md.Schema)
	if err != nil {
		return fail("no output schema for", err)
	}
	if err := schema.Validate(result); err != nil {
		return fail("invalid result from", err)
	}

	summary := []string{}
	if s, ok := p.(Summarizer); ok {
		if got := s.Summarize(result); got != nil {
			summary = got
		}
	}

	span.SetStatus(codes.Ok, "analysis finished")
	return &AnalysisResult{
		Plugin:        md.Name,
		PluginVersion: md.Version,
		SystemVersion: md.SystemVersion,
		AnalysisDate:  time.Now().UTC(),
		Result:        result,
		Summary:       summary,
	}, nil
}

// RunCompare runs p on files. At least two files are required.
func RunCompare(ctx context.Context, p ComparePlugin, files []*objects.FileObject) (map[string]any, error) {
	md := p.MetaData()
	ctx, span := tracer.Start(ctx, "plugins.Compare",
		trace.WithAttributes(
			attribute.String("plugins.name", md.Name),
			attribute.Int("plugins.files", len(files)),
		),
	)
	defer span.End()

	if len(files) < 2 {
		err := fmt.Errorf("compare needs at least two files, got %d", len(files))
		span.RecordError(err)
		span.SetStatus(codes.Error, "too few files")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, md.EffectiveTimeout())
	defer cancel()

	result, err := p.Compare(ctx, files)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare failed")
		return nil, fmt.Errorf("compare failed for %s: %w", md.Name, err)
	}
	span.SetStatus(codes.Ok, "compare finished")
	return result, nil
}
