package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/dharsanguruparan/LabelDrop/internal/logger"
)

func TestInit_Off(t *testing.T) {
	shutdown, err := Init(context.Background(), logger.Nop(), "labeldrop-test", "off")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), logger.Nop(), "labeldrop-test", "jaeger")
	assert.Error(t, err)
}

func TestInit_StdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := initWith(context.Background(), logger.Nop(), "labeldrop-test", "stdout", &buf)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "pipeline.scan")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "pipeline.scan")
}
