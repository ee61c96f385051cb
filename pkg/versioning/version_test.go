package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	g, err := NewGate(">= 0.3.0, < 2.0.0")
	require.NoError(t, err)

	tests := []struct {
		version string
		ok      bool
	}{
		{"0.3.0", true},
		{"v1.4.2", true},
		{"0.2.9", false},
		{"2.0.0", false},
		{"", false},
		{"banana", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := g.Check(tt.version)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestGate_EmptyAcceptsAnything(t *testing.T) {
	g, err := NewGate("")
	require.NoError(t, err)
	assert.NoError(t, g.Check(""))
	assert.NoError(t, g.Check("not-a-version"))

	var nilGate *Gate
	assert.NoError(t, nilGate.Check("1.0.0"))
}

func TestNewGate_Invalid(t *testing.T) {
	_, err := NewGate(">>> nope")
	assert.Error(t, err)
	assert.Panics(t, func() { MustGate(">>> nope") })
	assert.Equal(t, DefaultExtensionConstraint, MustGate(DefaultExtensionConstraint).String())
}

func TestAPIs_Sorted(t *testing.T) {
	apis := APIs()
	require.Len(t, apis, 3)
	assert.Equal(t, "extension", apis[0].Name)
	assert.Equal(t, SDKVersion, apis[0].CurrentVersion)
	assert.Equal(t, "sign", apis[2].Name)
}
