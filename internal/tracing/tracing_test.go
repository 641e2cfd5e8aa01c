package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()
	prev := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })
	return tracer
}

func TestGeneratorSpan(t *testing.T) {
	tracer := withMockTracer(t)

	root, ctx := StartSpan(context.Background(), "manager.list_tests")
	span, _ := StartGeneratorSpan(ctx, "playback")
	TagGeneration(span, 12, 2)
	LogError(span, errors.New("missing pipeline"))
	FinishSpan(span)
	FinishSpan(root)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)

	gen := spans[0]
	assert.Equal(t, "generator.generate", gen.OperationName)
	assert.Equal(t, "playback", gen.Tag("generator"))
	assert.Equal(t, 12, gen.Tag("tests.produced"))
	assert.Equal(t, 2, gen.Tag("tests.skipped"))
	assert.Equal(t, true, gen.Tag("error"))
	assert.Equal(t, spans[1].SpanContext.SpanID, gen.ParentID)
}

func TestNilSpanHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		TagGeneration(nil, 1, 1)
		LogError(nil, errors.New("boom"))
		SetTag(nil, "k", "v")
		FinishSpan(nil)
	})
}
