package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/values"
)

func Test_Log_AppendAndRecent(t *testing.T) {
	log := NewLog(8)
	plugin := values.NewPluginID()

	first := log.Append(Record{Plugin: plugin, Resource: "file:/a", Action: "r", Decision: DecisionAllow})
	second := log.Append(Record{Plugin: plugin, Resource: "file:/b", Action: "w", Decision: DecisionDeny})

	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	records := log.Recent(0)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "file:/b", records[0].Resource)
	assert.Equal(t, "file:/a", records[1].Resource)
	assert.False(t, records[0].Timestamp.IsZero())
}

func Test_Log_EvictsOldestWhenFull(t *testing.T) {
	log := NewLog(3)
	plugin := values.NewPluginID()

	for i := 0; i < 5; i++ {
		log.Append(Record{Plugin: plugin, Resource: fmt.Sprintf("r%d", i), Decision: DecisionAllow})
	}

	assert.Equal(t, 3, log.Len())
	records := log.Recent(0)
	require.Len(t, records, 3)
	assert.Equal(t, "r4", records[0].Resource)
	assert.Equal(t, "r2", records[2].Resource)
	// IDs keep growing even after eviction.
	assert.Equal(t, uint64(5), records[0].ID)
}

func Test_Log_Filters(t *testing.T) {
	log := NewLog(16)
	alpha := values.NewPluginID()
	beta := values.NewPluginID()

	log.Append(Record{Plugin: alpha, Resource: "file:/a", Decision: DecisionAllow})
	log.Append(Record{Plugin: beta, Resource: "file:/b", Decision: DecisionDeny})
	log.Append(Record{Plugin: alpha, Resource: "net:x:80", Decision: DecisionDeny})
	log.Append(Record{Plugin: alpha, Resource: "file:/a", Decision: DecisionAudit})

	assert.Len(t, log.ByPlugin(alpha, 0), 3)
	assert.Len(t, log.ByPlugin(beta, 0), 1)
	assert.Len(t, log.ByDecision(DecisionDeny, 0), 2)
	assert.Len(t, log.ByResource("file:/a", 0), 2)

	limited := log.ByPlugin(alpha, 2)
	require.Len(t, limited, 2)
	assert.Equal(t, DecisionAudit, limited[0].Decision)
}

func Test_Log_OrderWithinPlugin(t *testing.T) {
	log := NewLog(16)
	plugin := values.NewPluginID()

	for i := 0; i < 5; i++ {
		log.Append(Record{Plugin: plugin, Resource: fmt.Sprintf("r%d", i), Decision: DecisionAllow})
	}

	records := log.ByPlugin(plugin, 0)
	require.Len(t, records, 5)
	for i := 1; i < len(records); i++ {
		// Newest first means strictly decreasing IDs.
		assert.Greater(t, records[i-1].ID, records[i].ID)
	}
}
