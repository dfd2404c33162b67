package seal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealVersion(t *testing.T, name, version string) *Seal {
	t.Helper()
	s, err := mustSealer(t, "sha256").Seal(Document{"name": name, "version": version, "body": "v" + version})
	require.NoError(t, err)
	return s
}

func TestRegistry_MonotonicVersions(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(sealVersion(t, "payments", "1.0.0")))
	require.NoError(t, r.Register(sealVersion(t, "payments", "1.1.0")))
	require.NoError(t, r.Register(sealVersion(t, "refunds", "0.1.0")))

	assert.ErrorIs(t, r.Register(sealVersion(t, "payments", "1.0.5")), ErrVersionRegression)
	assert.ErrorIs(t, r.Register(sealVersion(t, "payments", "1.1.0")), ErrVersionRegression)
	assert.ErrorIs(t, r.Register(sealVersion(t, "payments", "1.1.0-rc.1")), ErrVersionRegression)
	require.NoError(t, r.Register(sealVersion(t, "payments", "v2.0.0")))

	latest, ok := r.Latest("payments")
	require.True(t, ok)
	assert.Equal(t, "v2.0.0", latest.ContractVersion)

	hist := r.History("payments")
	require.Len(t, hist, 3)
	assert.Equal(t, "1.0.0", hist[0].ContractVersion)
	assert.Equal(t, []string{"payments", "refunds"}, r.Names())
}

func TestRegistry_Rejects(t *testing.T) {
	r := NewRegistry()

	tampered := sealVersion(t, "payments", "1.0.0")
	tampered.SealedContract["body"] = "changed"
	assert.ErrorIs(t, r.Register(tampered), ErrInvalidSeal)

	unnamed, err := mustSealer(t, "sha256").Seal(Document{"version": "1.0.0"})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(unnamed), ErrUnnamedContract)

	assert.ErrorIs(t, r.Register(sealVersion(t, "payments", "latest")), ErrInvalidVersion)

	byID, err := mustSealer(t, "sha256").Seal(Document{"contract_id": "c-42", "version": "1.0.0"})
	require.NoError(t, err)
	assert.NoError(t, r.Register(byID))

	_, ok := r.Latest("payments")
	assert.False(t, ok)
	assert.Empty(t, r.History("payments"))
}
