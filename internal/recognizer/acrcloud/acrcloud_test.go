package acrcloud

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignProducesStableBase64Signature(t *testing.T) {
	p := New(Config{Host: "identify-eu-west-1.acrcloud.com", AccessKey: "key", AccessSecret: "secret"})
	sig1, err := p.sign("1700000000")
	require.NoError(t, err)
	require.NotEmpty(t, sig1)

	sig2, err := p.sign("1700000000")
	require.NoError(t, err)
	require.Equal(t, sig1, sig2, "signing the same timestamp twice must be deterministic")

	sig3, err := p.sign("1700000001")
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig3)
}

func TestNameIsAcrcloud(t *testing.T) {
	p := New(Config{})
	require.Equal(t, "acrcloud", p.Name())
}
