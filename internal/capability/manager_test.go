package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/audit"
	"github.com/caplet-dev/caplet/internal/policy"
	"github.com/caplet-dev/caplet/internal/values"
)

func newTestManager(t *testing.T, rules ...policy.Rule) *Manager {
	t.Helper()
	store := policy.NewStore()
	for _, rule := range rules {
		store.Add(rule)
	}
	return NewManager(NewStore(), policy.NewEngine(store), audit.NewLog(128), nil)
}

func Test_Manager_GrantCheckRevoke(t *testing.T) {
	manager := newTestManager(t)
	plugin := values.NewPluginID()

	id, err := manager.Grant(plugin, NewFile([]string{"/tmp"}, true, false, false))
	require.NoError(t, err)

	assert.NoError(t, manager.Check(plugin, FileRequest{Path: "/tmp/x", Read: true}))
	assert.Error(t, manager.Check(plugin, FileRequest{Path: "/tmp/x", Write: true}))
	assert.Error(t, manager.Check(plugin, FileRequest{Path: "/etc/passwd", Read: true}))

	require.NoError(t, manager.Revoke(id))

	assert.Error(t, manager.Check(plugin, FileRequest{Path: "/tmp/x", Read: true}))
	assert.Error(t, manager.Check(plugin, FileRequest{Path: "/tmp/x", Write: true}))
	assert.Error(t, manager.Check(plugin, FileRequest{Path: "/etc/passwd", Read: true}))
}

func Test_Manager_GrantRevokeLeavesListUnchanged(t *testing.T) {
	manager := newTestManager(t)
	plugin := values.NewPluginID()

	_, err := manager.Grant(plugin, FileReadOnly("/data"))
	require.NoError(t, err)
	before := len(manager.List(plugin))

	id, err := manager.Grant(plugin, FileWriteOnly("/scratch"))
	require.NoError(t, err)
	require.NoError(t, manager.Revoke(id))

	assert.Len(t, manager.List(plugin), before)
}

func Test_Manager_AlreadyGranted(t *testing.T) {
	manager := newTestManager(t)
	plugin := values.NewPluginID()

	_, err := manager.Grant(plugin, FileReadOnly("/tmp"))
	require.NoError(t, err)

	_, err = manager.Grant(plugin, FileReadOnly("/tmp"))
	var already *AlreadyGrantedError
	assert.ErrorAs(t, err, &already)
}

func Test_Manager_AttenuationScenario(t *testing.T) {
	manager := newTestManager(t)
	plugin := values.NewPluginID()

	parent, err := manager.Grant(plugin, NewNetwork(
		[]string{"*.example.com"},
		[]PortRange{Port(80), Port(443)},
		true, false,
	))
	require.NoError(t, err)

	child, err := manager.Attenuate(plugin, parent, Constraints{
		Hosts: []string{"api.example.com"},
		Ports: []PortRange{Port(443)},
	})
	require.NoError(t, err)

	_, childCap, err := manager.store.Get(child)
	require.NoError(t, err)
	assert.NoError(t, childCap.Permits(NetworkRequest{Host: "api.example.com", Port: 443, Connect: true}))
	assert.Error(t, childCap.Permits(NetworkRequest{Host: "api.example.com", Port: 80, Connect: true}))
	assert.Error(t, childCap.Permits(NetworkRequest{Host: "other.example.com", Port: 443, Connect: true}))

	// Revoking the parent cascades to the child.
	require.NoError(t, manager.Revoke(parent))
	_, _, err = manager.store.Get(child)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func Test_Manager_AttenuateRequiresOwnership(t *testing.T) {
	manager := newTestManager(t)
	owner := values.NewPluginID()
	other := values.NewPluginID()

	id, err := manager.Grant(owner, FileReadOnly("/tmp"))
	require.NoError(t, err)

	_, err = manager.Attenuate(other, id, Constraints{Paths: []string{"/tmp/sub"}})
	var notGranted *NotGrantedError
	assert.ErrorAs(t, err, &notGranted)
}

func Test_Manager_PolicyRefusesGrant(t *testing.T) {
	rule, err := policy.NewFileRule("no-etc", "deny everything under /etc", "^/etc", true, true, policy.ActionDeny)
	require.NoError(t, err)
	manager := newTestManager(t, rule)
	plugin := values.NewPluginID()

	_, err = manager.Grant(plugin, FileReadOnly("/etc/ssl"))
	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Empty(t, manager.List(plugin))
}

func Test_Manager_PolicyOverlaysCheck(t *testing.T) {
	deny, err := policy.NewFileRule("no-secrets", "deny secrets dir", "^/data/secrets", true, true, policy.ActionDeny)
	require.NoError(t, err)
	manager := newTestManager(t, deny)
	plugin := values.NewPluginID()

	// Capability covers all of /data, policy carves out /data/secrets.
	_, err = manager.Grant(plugin, FileReadOnly("/data"))
	require.NoError(t, err)

	assert.NoError(t, manager.Check(plugin, FileRequest{Path: "/data/public", Read: true}))

	err = manager.Check(plugin, FileRequest{Path: "/data/secrets/key", Read: true})
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	var violation *policy.FileAccessViolationError
	assert.ErrorAs(t, err, &violation)
}

func Test_Manager_AuditTrail(t *testing.T) {
	logRule, err := policy.NewFileRule("watch-var", "log /var access", "^/var", true, true, policy.ActionLog)
	require.NoError(t, err)
	manager := newTestManager(t, logRule)
	plugin := values.NewPluginID()

	_, err = manager.Grant(plugin, FileReadOnly("/var"))
	require.NoError(t, err)

	require.NoError(t, manager.Check(plugin, FileRequest{Path: "/var/data", Read: true}))
	_ = manager.Check(plugin, FileRequest{Path: "/other", Read: true})

	records := manager.Audit().ByPlugin(plugin, 0)
	require.Len(t, records, 2)

	// Newest first: the deny, then the audited allow.
	assert.Equal(t, audit.DecisionDeny, records[0].Decision)
	assert.Equal(t, audit.DecisionAudit, records[1].Decision)
	assert.Equal(t, "watch-var", records[1].RuleID)

	denies := manager.Audit().ByDecision(audit.DecisionDeny, 0)
	require.Len(t, denies, 1)
}

func Test_Manager_CheckResourceUsage(t *testing.T) {
	rule := policy.NewResourceLimitRule("fuel-cap", "bound fuel", policy.ResourceFuel, 1000, policy.ActionDeny)
	manager := newTestManager(t, rule)
	plugin := values.NewPluginID()

	assert.NoError(t, manager.CheckResourceUsage(plugin, policy.ResourceFuel, 1000))

	err := manager.CheckResourceUsage(plugin, policy.ResourceFuel, 1001)
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	var exceeded *policy.ResourceLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, policy.ResourceFuel, exceeded.Resource)
	assert.EqualValues(t, 1001, exceeded.Amount)
	assert.EqualValues(t, 1000, exceeded.Limit)

	// Other resource types are untouched by this rule.
	assert.NoError(t, manager.CheckResourceUsage(plugin, policy.ResourceMemory, 1_000_000))

	denies := manager.Audit().ByDecision(audit.DecisionDeny, 0)
	require.Len(t, denies, 1)
	assert.Equal(t, "resource:fuel", denies[0].Resource)
}

func Test_Manager_ClearOnUnload(t *testing.T) {
	manager := newTestManager(t)
	plugin := values.NewPluginID()

	_, err := manager.Grant(plugin, FileReadOnly("/tmp"))
	require.NoError(t, err)
	_, err = manager.Grant(plugin, NewMessage(map[string][]string{"peer": {"topic"}}))
	require.NoError(t, err)

	manager.Clear(plugin)
	assert.Empty(t, manager.List(plugin))
	assert.Error(t, manager.Check(plugin, FileRequest{Path: "/tmp/x", Read: true}))
}
