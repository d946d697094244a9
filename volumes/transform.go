package volumes

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AffineTransform is a 3x4 affine transform in (x,y,z) order, grounded on
// original_source/src/volume/transform.rs's AffineTransform, generalized
// from two compiled-in constants (TRANSFORM_0_1/TRANSFORM_0_2 in
// original_source/src/volume/rgb.rs) to transforms loaded from the Villa
// multi-energy-scan registration JSON schema referenced there.
type AffineTransform struct {
	Matrix [3][4]float64
}

// villaTransformFile mirrors transform.rs's VillaTransformFile schema.
type villaTransformFile struct {
	SchemaVersion       string        `json:"schema_version"`
	FixedVolume         string        `json:"fixed_volume"`
	TransformationMatrix [3][4]float64 `json:"transformation_matrix"`
	Params               *[3][4]float64 `json:"params"`
}

// ParseAffineTransformJSON parses either the full Villa transform-file
// schema, a document carrying the matrix under "params", or a bare
// [3][4]float64 JSON array.
func ParseAffineTransformJSON(data []byte) (AffineTransform, error) {
	var bare [3][4]float64
	if err := json.Unmarshal(data, &bare); err == nil {
		return AffineTransform{Matrix: bare}, nil
	}
	var tf villaTransformFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return AffineTransform{}, fmt.Errorf("%w: invalid affine transform JSON: %v", ErrFormatMismatch, err)
	}
	if tf.Params != nil {
		return AffineTransform{Matrix: *tf.Params}, nil
	}
	return AffineTransform{Matrix: tf.TransformationMatrix}, nil
}

// LoadAffineTransformFile reads and parses path as an affine transform.
func LoadAffineTransformFile(path string) (AffineTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AffineTransform{}, err
	}
	return ParseAffineTransformJSON(data)
}

// LoadAffineTransform accepts either a literal JSON array (starting with
// "[") or a path to a JSON file, matching transform.rs's
// from_json_array_or_path convenience constructor.
func LoadAffineTransform(jsonOrPath string) (AffineTransform, error) {
	trimmed := strings.TrimSpace(jsonOrPath)
	if strings.HasPrefix(trimmed, "[") {
		return ParseAffineTransformJSON([]byte(trimmed))
	}
	return LoadAffineTransformFile(trimmed)
}

// Apply maps xyz through the transform: result[i] = M[i][3] + sum_j M[i][j]*xyz[j].
func (t AffineTransform) Apply(xyz [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = t.Matrix[i][3]
		for j := 0; j < 3; j++ {
			out[i] += t.Matrix[i][j] * xyz[j]
		}
	}
	return out
}

// IdentityTransform is the no-op affine transform, used for a channel
// that needs no registration adjustment (e.g. the reference channel).
var IdentityTransform = AffineTransform{Matrix: [3][4]float64{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}}
