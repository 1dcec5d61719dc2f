package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Network_Permits(t *testing.T) {
	cap := NewNetwork([]string{"*.example.com"}, []PortRange{Port(80), Port(443)}, true, false)

	tests := []struct {
		name    string
		request NetworkRequest
		allowed bool
	}{
		{
			name:    "subdomain on allowed port",
			request: NetworkRequest{Host: "api.example.com", Port: 443, Connect: true},
			allowed: true,
		},
		{
			name:    "bare domain matches wildcard",
			request: NetworkRequest{Host: "example.com", Port: 80, Connect: true},
			allowed: true,
		},
		{
			name:    "nested subdomain",
			request: NetworkRequest{Host: "a.b.example.com", Port: 80, Connect: true},
			allowed: true,
		},
		{
			name:    "suffix without dot boundary",
			request: NetworkRequest{Host: "evilexample.com", Port: 80, Connect: true},
			allowed: false,
		},
		{
			name:    "other domain",
			request: NetworkRequest{Host: "other.org", Port: 80, Connect: true},
			allowed: false,
		},
		{
			name:    "port outside ranges",
			request: NetworkRequest{Host: "api.example.com", Port: 8080, Connect: true},
			allowed: false,
		},
		{
			name:    "listen not granted",
			request: NetworkRequest{Host: "api.example.com", Port: 443, Listen: true},
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cap.Permits(tt.request)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func Test_Network_Constrain(t *testing.T) {
	parent := NewNetwork([]string{"*.example.com"}, []PortRange{Port(80), Port(443)}, true, false)

	child, err := parent.Constrain(Constraints{
		Hosts: []string{"api.example.com"},
		Ports: []PortRange{Port(443)},
	})
	require.NoError(t, err)

	assert.NoError(t, child.Permits(NetworkRequest{Host: "api.example.com", Port: 443, Connect: true}))
	assert.Error(t, child.Permits(NetworkRequest{Host: "api.example.com", Port: 80, Connect: true}))
	assert.Error(t, child.Permits(NetworkRequest{Host: "other.example.com", Port: 443, Connect: true}))
}

func Test_Network_Constrain_Degenerate(t *testing.T) {
	parent := NewNetwork([]string{"*.example.com"}, []PortRange{Port(443)}, true, false)

	t.Run("host outside parent", func(t *testing.T) {
		_, err := parent.Constrain(Constraints{Hosts: []string{"other.org"}})
		var constraintErr *ConstraintError
		assert.ErrorAs(t, err, &constraintErr)
	})

	t.Run("non-overlapping ports", func(t *testing.T) {
		_, err := parent.Constrain(Constraints{Ports: []PortRange{Port(80)}})
		var constraintErr *ConstraintError
		assert.ErrorAs(t, err, &constraintErr)
	})

	t.Run("wildcard child narrower than wildcard parent is covered", func(t *testing.T) {
		child, err := parent.Constrain(Constraints{Hosts: []string{"*.api.example.com"}})
		require.NoError(t, err)
		assert.NoError(t, child.Permits(NetworkRequest{Host: "v1.api.example.com", Port: 443, Connect: true}))
		assert.Error(t, child.Permits(NetworkRequest{Host: "www.example.com", Port: 443, Connect: true}))
	})
}

func Test_PortRange(t *testing.T) {
	r := PortRange{Lo: 8000, Hi: 9000}
	assert.True(t, r.Contains(8000))
	assert.True(t, r.Contains(9000))
	assert.False(t, r.Contains(7999))

	clipped, ok := r.Intersect(PortRange{Lo: 8500, Hi: 9500})
	require.True(t, ok)
	assert.Equal(t, PortRange{Lo: 8500, Hi: 9000}, clipped)

	_, ok = r.Intersect(PortRange{Lo: 9500, Hi: 9600})
	assert.False(t, ok)
}
