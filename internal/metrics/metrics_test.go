package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.TaskStarted()
	c.TaskFinished("completed", 1.5)
	c.RecordCreated("market_research", false)
	c.RecordCreated("market_research", true)
	c.Verification(true)
	c.Verification(false)
	c.ConsensusDecision(true)
	c.RelayPublish("announcement", true)
	c.RelayPublish("announcement", false)
	c.SetConnectedRelays(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsCreated.WithLabelValues("market_research", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsCreated.WithLabelValues("market_research", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verificationsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consensusDecisions.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relayPublishes.WithLabelValues("announcement", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.relayPublishes.WithLabelValues("announcement", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectedRelays))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.TaskStarted()
	c.TaskFinished("failed", 0)
	c.RecordCreated("x", false)
	c.Verification(true)
	c.ConsensusDecision(false)
	c.RelayPublish("request", true)
	c.SetConnectedRelays(0)
}
