package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/values"
)

func Test_Store_AddAndGet(t *testing.T) {
	store := NewStore()
	plugin := values.NewPluginID()

	id := store.Add(plugin, FileReadOnly("/tmp"))

	owner, cap, err := store.Get(id)
	require.NoError(t, err)
	assert.True(t, owner.Equals(plugin))
	assert.Equal(t, KindFile, cap.Kind())
}

func Test_Store_ListMatchesGrantsMinusRevocations(t *testing.T) {
	store := NewStore()
	plugin := values.NewPluginID()

	first := store.Add(plugin, FileReadOnly("/tmp"))
	second := store.Add(plugin, FileWriteOnly("/var"))

	require.Len(t, store.List(plugin), 2)

	require.NoError(t, store.Remove(first))
	granted := store.List(plugin)
	require.Len(t, granted, 1)
	assert.True(t, granted[0].ID.Equals(second))
}

func Test_Store_RevokeCascades(t *testing.T) {
	store := NewStore()
	plugin := values.NewPluginID()

	root := store.Add(plugin, NewFile([]string{"/tmp"}, true, true, false))
	child, err := store.AddDerived(plugin, root, FileReadOnly("/tmp/sub"))
	require.NoError(t, err)
	grandchild, err := store.AddDerived(plugin, child, FileReadOnly("/tmp/sub/deep"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(root))

	for _, id := range []values.CapabilityID{root, child, grandchild} {
		_, _, err := store.Get(id)
		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound)
	}
	assert.Empty(t, store.List(plugin))
}

func Test_Store_RemoveMissing(t *testing.T) {
	store := NewStore()
	err := store.Remove(values.NewCapabilityID())
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func Test_Store_DerivedRequiresOwner(t *testing.T) {
	store := NewStore()
	owner := values.NewPluginID()
	other := values.NewPluginID()

	root := store.Add(owner, FileReadOnly("/tmp"))

	_, err := store.AddDerived(other, root, FileReadOnly("/tmp/sub"))
	var notGranted *NotGrantedError
	assert.ErrorAs(t, err, &notGranted)
}

func Test_Store_Permits(t *testing.T) {
	store := NewStore()
	plugin := values.NewPluginID()

	assert.Error(t, store.Permits(plugin, FileRequest{Path: "/tmp/x", Read: true}))

	store.Add(plugin, FileReadOnly("/tmp"))
	assert.NoError(t, store.Permits(plugin, FileRequest{Path: "/tmp/x", Read: true}))
	assert.Error(t, store.Permits(plugin, FileRequest{Path: "/etc/x", Read: true}))
}

func Test_Store_Clear(t *testing.T) {
	store := NewStore()
	plugin := values.NewPluginID()
	other := values.NewPluginID()

	store.Add(plugin, FileReadOnly("/tmp"))
	store.Add(plugin, FileWriteOnly("/var"))
	otherID := store.Add(other, FileReadOnly("/etc"))

	store.Clear(plugin)

	assert.Empty(t, store.List(plugin))
	_, _, err := store.Get(otherID)
	assert.NoError(t, err)
}
