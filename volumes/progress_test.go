package volumes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuietProgressIsNoOp(t *testing.T) {
	p := NewPrefetchProgress(10, "test", true)
	n, err := p.Write([]byte("ignored"))
	require.NoError(t, err)
	assert.Equal(t, len("ignored"), n)
	p.Add(5)
	assert.NoError(t, p.Close())
}

func TestPrefetchProgressBarWritesAndCloses(t *testing.T) {
	p := NewPrefetchProgress(10, "test", false)
	p.Add(3)
	assert.NoError(t, p.Close())
}
