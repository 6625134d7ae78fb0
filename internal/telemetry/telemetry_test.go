package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestStartEnd_NoopProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "tool.lint", attribute.String("tool.name", "lint"))
	if ctx == nil || span == nil {
		t.Fatal("expected context and span")
	}
	Fail(span, "lint failed")
	End(span, errors.New("boom"))
}
