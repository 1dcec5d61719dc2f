package hostfuncs

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caplet-dev/caplet/internal/capability"
	"github.com/caplet-dev/caplet/internal/policy"
)

func Test_ErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{
			name: "nil",
			err:  nil,
			want: 0,
		},
		{
			name: "capability denied",
			err:  &capability.PermissionDeniedError{Reason: "no capability"},
			want: CodeCapabilityDenied,
		},
		{
			name: "policy denied file",
			err: &capability.PermissionDeniedError{
				Reason: "denied by policy",
				Cause:  &policy.FileAccessViolationError{Path: "/etc", Reason: "blocked"},
			},
			want: CodePolicyDenied,
		},
		{
			name: "policy denied network",
			err: &capability.PermissionDeniedError{
				Reason: "denied by policy",
				Cause:  &policy.NetworkAccessViolationError{Host: "x", Port: 80, Reason: "blocked"},
			},
			want: CodePolicyDenied,
		},
		{
			name: "resource limit exceeded",
			err: &capability.PermissionDeniedError{
				Reason: "denied by policy",
				Cause:  &policy.ResourceLimitExceededError{Resource: policy.ResourceFuel, Amount: 2000, Limit: 1000},
			},
			want: CodeResourceExhausted,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: CodeTimeout,
		},
		{
			name: "generic failure",
			err:  errors.New("boom"),
			want: CodeErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func Test_ConnTable(t *testing.T) {
	table := NewConnTable()

	client, server := net.Pipe()
	defer server.Close()

	fd := table.Open(client)
	assert.GreaterOrEqual(t, fd, int32(4))

	got, ok := table.Get(fd)
	assert.True(t, ok)
	assert.Equal(t, client, got)

	assert.NoError(t, table.Close(fd))
	_, ok = table.Get(fd)
	assert.False(t, ok)

	// Closing an unknown descriptor is a no-op.
	assert.NoError(t, table.Close(999))
}

func Test_CallerContext(t *testing.T) {
	_, ok := CallerFromContext(context.Background())
	assert.False(t, ok)

	caller := Caller{Conns: NewConnTable()}
	ctx := WithCaller(context.Background(), caller)
	got, ok := CallerFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, caller.Conns, got.Conns)
}
