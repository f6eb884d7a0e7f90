package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "catalog-test"})

	log.WithOperation("search").WithSession("s-1").Info().Str("tier", "hybrid").Msg("tier finished")
	log.Debug().Msg("suppressed at info level")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "catalog-test", entry["service"])
	assert.Equal(t, "search", entry["operation"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "hybrid", entry["tier"])
	assert.Equal(t, "tier finished", entry["message"])
}

func TestLogger_Nop(t *testing.T) {
	assert.NotPanics(t, func() {
		OrNop(nil).Warn().Msg("dropped")
		Nop().WithComponent("x").Error().Msg("dropped")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("nonsense").String())
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveTier("hybrid", "empty", 10*time.Millisecond)
	m.ObserveTier("vector", "hit", 5*time.Millisecond)
	m.ObserveSearch("product", "vector", 20*time.Millisecond)
	m.IncEmbeddingErrors()
	m.IncInteraction("view")
	m.ObserveFusion(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierOutcomes.WithLabelValues("hybrid", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchMethod.WithLabelValues("vector")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Interactions.WithLabelValues("view")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fusions.WithLabelValues("true")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveTier("x", "y", time.Second) })
}
