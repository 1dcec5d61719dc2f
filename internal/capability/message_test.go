package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Message_Permits(t *testing.T) {
	cap := NewMessage(map[string][]string{
		"collector": {"metrics", "logs"},
		"alerter":   {"alerts"},
	})

	assert.NoError(t, cap.Permits(MessageRequest{Recipient: "collector", Topic: "metrics"}))
	assert.NoError(t, cap.Permits(MessageRequest{Recipient: "alerter", Topic: "alerts"}))
	assert.Error(t, cap.Permits(MessageRequest{Recipient: "collector", Topic: "alerts"}))
	assert.Error(t, cap.Permits(MessageRequest{Recipient: "unknown", Topic: "metrics"}))
}

func Test_Message_Split(t *testing.T) {
	cap := NewMessage(map[string][]string{
		"collector": {"metrics"},
		"alerter":   {"alerts"},
	})

	split := cap.Split()
	require.Len(t, split, 2)

	// Each child covers exactly one recipient; together they cover the
	// parent's authority.
	for _, req := range []MessageRequest{
		{Recipient: "collector", Topic: "metrics"},
		{Recipient: "alerter", Topic: "alerts"},
	} {
		permitted := 0
		for _, child := range split {
			if child.Permits(req) == nil {
				permitted++
			}
		}
		assert.Equal(t, 1, permitted, "request %v should be covered by exactly one child", req)
	}
}

func Test_Message_ConstrainAndJoin(t *testing.T) {
	cap := NewMessage(map[string][]string{
		"collector": {"metrics", "logs"},
		"alerter":   {"alerts"},
	})

	child, err := cap.Constrain(Constraints{Topics: map[string][]string{
		"collector": {"metrics"},
	}})
	require.NoError(t, err)
	assert.NoError(t, child.Permits(MessageRequest{Recipient: "collector", Topic: "metrics"}))
	assert.Error(t, child.Permits(MessageRequest{Recipient: "collector", Topic: "logs"}))
	assert.Error(t, child.Permits(MessageRequest{Recipient: "alerter", Topic: "alerts"}))

	_, err = cap.Constrain(Constraints{Topics: map[string][]string{"collector": {"unrelated"}}})
	var constraintErr *ConstraintError
	assert.ErrorAs(t, err, &constraintErr)

	// Joining the split children restores the original authority.
	split := cap.Split()
	rejoined, err := split[0].Join(split[1])
	require.NoError(t, err)
	assert.True(t, rejoined.Equal(cap))
}

func Test_PluginCall_PermitsAndSplit(t *testing.T) {
	cap := NewPluginCall(map[string][]string{
		"parser":  {"parse", "lint"},
		"emitter": {"emit"},
	})

	assert.NoError(t, cap.Permits(PluginCallRequest{Plugin: "parser", Function: "parse"}))
	assert.Error(t, cap.Permits(PluginCallRequest{Plugin: "parser", Function: "emit"}))
	assert.Error(t, cap.Permits(PluginCallRequest{Plugin: "other", Function: "parse"}))

	split := cap.Split()
	require.Len(t, split, 2)

	child, err := cap.Constrain(Constraints{Functions: map[string][]string{"parser": {"parse"}}})
	require.NoError(t, err)
	assert.NoError(t, child.Permits(PluginCallRequest{Plugin: "parser", Function: "parse"}))
	assert.Error(t, child.Permits(PluginCallRequest{Plugin: "parser", Function: "lint"}))
}
