package volumes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAffineTransformBareArray(t *testing.T) {
	raw := `[[1,0,0,5],[0,1,0,6],[0,0,1,7]]`
	tf, err := ParseAffineTransformJSON([]byte(raw))
	require.NoError(t, err)
	got := tf.Apply([3]float64{1, 2, 3})
	assert.Equal(t, [3]float64{6, 8, 10}, got)
}

func TestParseAffineTransformVillaSchema(t *testing.T) {
	raw := `{
		"schema_version": "1.0",
		"fixed_volume": "20231121152933",
		"transformation_matrix": [[1,0,0,1],[0,1,0,2],[0,0,1,3]],
		"fixed_landmarks": [],
		"moving_landmarks": []
	}`
	tf, err := ParseAffineTransformJSON([]byte(raw))
	require.NoError(t, err)
	got := tf.Apply([3]float64{0, 0, 0})
	assert.Equal(t, [3]float64{1, 2, 3}, got)
}

func TestLoadAffineTransformDispatchesOnBracket(t *testing.T) {
	got, err := LoadAffineTransform(`[[1,0,0,0],[0,1,0,0],[0,0,1,0]]`)
	require.NoError(t, err)
	assert.Equal(t, IdentityTransform, got)

	path := filepath.Join(t.TempDir(), "transform.json")
	require.NoError(t, os.WriteFile(path, []byte(`[[1,0,0,9],[0,1,0,0],[0,0,1,0]]`), 0o644))
	fromFile, err := LoadAffineTransform(path)
	require.NoError(t, err)
	assert.Equal(t, 9.0, fromFile.Matrix[0][3])
}

func TestIdentityTransformIsNoOp(t *testing.T) {
	got := IdentityTransform.Apply([3]float64{4, 5, 6})
	assert.Equal(t, [3]float64{4, 5, 6}, got)
}
