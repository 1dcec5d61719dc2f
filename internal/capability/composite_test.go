package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Composite_All(t *testing.T) {
	// Read and write authority over /tmp held as separate children.
	readTmp := FileReadOnly("/tmp")
	writeTmp := FileWriteOnly("/tmp")
	all := NewComposite(ModeAll, readTmp, writeTmp)

	t.Run("read+write request satisfies both children", func(t *testing.T) {
		// Each child authorises its share of the requested operations.
		assert.NoError(t, all.Permits(FileRequest{Path: "/tmp/f", Read: true, Write: true}))
	})

	t.Run("request leaving a child without a share is denied", func(t *testing.T) {
		assert.Error(t, all.Permits(FileRequest{Path: "/tmp/f", Read: true}))
	})

	t.Run("path outside any child is denied", func(t *testing.T) {
		assert.Error(t, all.Permits(FileRequest{Path: "/etc/f", Read: true, Write: true}))
	})
}

func Test_Composite_Any(t *testing.T) {
	readTmp := FileReadOnly("/tmp")
	writeTmp := FileWriteOnly("/tmp")
	any := NewComposite(ModeAny, readTmp, writeTmp)

	assert.NoError(t, any.Permits(FileRequest{Path: "/tmp/f", Read: true}))
	assert.NoError(t, any.Permits(FileRequest{Path: "/tmp/f", Write: true}))

	err := any.Permits(FileRequest{Path: "/etc/f", Read: true})
	require.Error(t, err)
	// On deny, Any reports the last child's denial reason.
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
}

func Test_Composite_Empty(t *testing.T) {
	t.Run("empty All permits everything", func(t *testing.T) {
		all := NewComposite(ModeAll)
		assert.NoError(t, all.Permits(FileRequest{Path: "/anything", Read: true, Write: true}))
		assert.NoError(t, all.Permits(NetworkRequest{Host: "example.com", Port: 80, Connect: true}))
	})

	t.Run("empty Any denies everything", func(t *testing.T) {
		any := NewComposite(ModeAny)
		assert.Error(t, any.Permits(FileRequest{Path: "/anything", Read: true}))
	})
}

func Test_Composite_Constrain(t *testing.T) {
	file := NewFile([]string{"/tmp"}, true, true, false)
	network := NetworkOutbound([]string{"example.com"}, Port(80))
	composite := NewComposite(ModeAny, file, network)

	t.Run("constraint narrows matching children and leaves others unchanged", func(t *testing.T) {
		constrained, err := composite.Constrain(Constraints{Paths: []string{"/tmp/sub"}})
		require.NoError(t, err)

		// File child narrowed; network child untouched (its dimensions
		// were not constrained).
		assert.NoError(t, constrained.Permits(FileRequest{Path: "/tmp/sub/f", Read: true}))
		assert.Error(t, constrained.Permits(FileRequest{Path: "/tmp/other", Read: true}))
		assert.NoError(t, constrained.Permits(NetworkRequest{Host: "example.com", Port: 80, Connect: true}))
	})

	t.Run("empty result fails", func(t *testing.T) {
		no := false
		fileOnly := NewComposite(ModeAny, FileReadOnly("/tmp"))
		_, err := fileOnly.Constrain(Constraints{Read: &no})
		var constraintErr *ConstraintError
		assert.ErrorAs(t, err, &constraintErr)
	})

	t.Run("mode preserved", func(t *testing.T) {
		constrained, err := composite.Constrain(Constraints{Paths: []string{"/tmp/sub"}})
		require.NoError(t, err)
		assert.Equal(t, ModeAny, constrained.(*Composite).Mode())
	})
}

func Test_Composite_Split(t *testing.T) {
	message := NewMessage(map[string][]string{
		"alpha": {"metrics"},
		"beta":  {"logs"},
	})
	composite := NewComposite(ModeAny, FileReadOnly("/tmp"), message)

	split := composite.Split()
	// One file child plus one message child per recipient.
	assert.Len(t, split, 3)
}

func Test_Composite_Join(t *testing.T) {
	a := NewComposite(ModeAll, FileReadOnly("/tmp"))
	b := NewComposite(ModeAll, FileWriteOnly("/var"))
	c := NewComposite(ModeAny, FileReadOnly("/etc"))

	joined, err := a.Join(b)
	require.NoError(t, err)
	assert.Len(t, joined.(*Composite).Children(), 2)

	_, err = a.Join(c)
	var composition *CompositionError
	assert.ErrorAs(t, err, &composition)

	// Joining a leaf appends it as a child.
	withLeaf, err := a.Join(FileReadOnly("/opt"))
	require.NoError(t, err)
	assert.Len(t, withLeaf.(*Composite).Children(), 2)
}
