package volumes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRGBVolumeSampleReturnsReferenceChannel(t *testing.T) {
	rgb := NewRGBVolume([]Volume{constVolume{v: 11}, constVolume{v: 22}, constVolume{v: 33}}, []AffineTransform{IdentityTransform, IdentityTransform})
	assert.Equal(t, uint8(11), rgb.Sample([3]float64{0, 0, 0}, 1))
}

func TestRGBVolumeSampleColorComposesAllChannels(t *testing.T) {
	rgb := NewRGBVolume([]Volume{constVolume{v: 11}, constVolume{v: 22}, constVolume{v: 33}}, []AffineTransform{IdentityTransform, IdentityTransform})
	r, g, b := rgb.SampleColor([3]float64{0, 0, 0}, 1)
	assert.Equal(t, uint8(11), r)
	assert.Equal(t, uint8(22), g)
	assert.Equal(t, uint8(33), b)
}

func TestRGBVolumeAppliesPerChannelTransform(t *testing.T) {
	shifted := &shiftRecordingVolume{}
	rgb := NewRGBVolume([]Volume{constVolume{v: 1}, shifted},
		[]AffineTransform{{Matrix: [3][4]float64{{1, 0, 0, 10}, {0, 1, 0, 0}, {0, 0, 1, 0}}}})

	rgb.SampleColor([3]float64{5, 5, 5}, 1)
	assert.Equal(t, [3]float64{15, 5, 5}, shifted.lastXYZ)
}

func TestRGBVolumePaintFillsRGBBuffer(t *testing.T) {
	rgb := NewRGBVolume([]Volume{constVolume{v: 1}, constVolume{v: 2}, constVolume{v: 3}}, []AffineTransform{IdentityTransform, IdentityTransform})
	out := NewRGBImage(2, 2)
	rgb.Paint([3]int32{0, 0, 0}, Axes{U: 0, V: 1, Plane: 2}, 2, 2, 1, 1, DrawingConfig{}, out)
	assert.Equal(t, []uint8{1, 2, 3, 1, 2, 3, 1, 2, 3, 1, 2, 3}, out.RGB)
}

// shiftRecordingVolume records the last xyz it was sampled at.
type shiftRecordingVolume struct {
	lastXYZ [3]float64
}

func (s *shiftRecordingVolume) Sample(xyz [3]float64, ds int) uint8 {
	s.lastXYZ = xyz
	return 0
}
func (s *shiftRecordingVolume) SampleInterpolated(xyz [3]float64, ds int) uint8 { return s.Sample(xyz, ds) }
func (s *shiftRecordingVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
}
