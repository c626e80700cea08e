package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitTracerDisabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	shutdown := InitTracer("realtime-chat-worker", "worker-0")
	assert.NoError(t, shutdown(context.Background()))
}

func TestSamplingRatio(t *testing.T) {
	tests := map[string]float64{"": 1, "0.25": 0.25, "2": 1, "-1": 1, "abc": 1, "0": 0}
	for in, want := range tests {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", in)
		assert.Equal(t, want, samplingRatio(), "input %q", in)
	}
}
