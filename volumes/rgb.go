package volumes

// RGBVolume composes N co-registered energy-channel volumes into a single
// false-colour RGB Volume, grounded on original_source/src/volume/rgb.rs's
// RGBVolume, generalized from two compiled-in 3x4 affine constants
// (TRANSFORM_0_1, TRANSFORM_0_2) to a Transforms slice loaded per channel
// via AffineTransform, so any number of channels beyond the reference one
// can be registered.
type RGBVolume struct {
	// Channels[0] is the reference channel sampled with the identity
	// transform; Channels[1:] are registered onto it via Transforms.
	Channels   []Volume
	Transforms []AffineTransform // len == len(Channels)-1
}

// NewRGBVolume pairs channels[1:] with the given transforms (one per
// non-reference channel).
func NewRGBVolume(channels []Volume, transforms []AffineTransform) *RGBVolume {
	return &RGBVolume{Channels: channels, Transforms: transforms}
}

func (r *RGBVolume) channelXYZ(i int, xyz [3]float64) [3]float64 {
	if i == 0 {
		return xyz
	}
	return r.Transforms[i-1].Apply(xyz)
}

// Sample returns the reference channel's grayscale value, matching
// rgb.rs's VoxelVolume::get (only get_color blends the full RGB triple).
func (r *RGBVolume) Sample(xyz [3]float64, ds int) uint8 {
	return r.Channels[0].Sample(xyz, ds)
}

func (r *RGBVolume) SampleInterpolated(xyz [3]float64, ds int) uint8 {
	return r.Channels[0].SampleInterpolated(xyz, ds)
}

// SampleColor returns the composited (R,G,B) triple for up to 3 channels,
// matching rgb.rs's get_color. Channels beyond index 2 are ignored (RGB
// has only three slots); fewer than 3 channels leave the trailing
// components at 0.
func (r *RGBVolume) SampleColor(xyz [3]float64, ds int) (red, green, blue uint8) {
	var out [3]uint8
	for i := 0; i < len(r.Channels) && i < 3; i++ {
		out[i] = r.Channels[i].Sample(r.channelXYZ(i, xyz), ds)
	}
	return out[0], out[1], out[2]
}

// Sample implements Volume; Paint produces a full RGB image, looping
// pixels across the requested cardinal plane exactly as
// rgb.rs::PaintVolume::paint does.
func (r *RGBVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	zoom := paintZoom
	if zoom < 1 {
		zoom = 1
	}
	ffactor := float64(ds)

	for imV := 0; imV < height; imV++ {
		for imU := 0; imU < width; imU++ {
			relU := (imU - width/2) * zoom
			relV := (imV - height/2) * zoom

			var uvw [3]float64
			uvw[axes.U] = float64(int(center[axes.U])+relU) / ffactor
			uvw[axes.V] = float64(int(center[axes.V])+relV) / ffactor
			uvw[axes.Plane] = float64(center[axes.Plane]) / ffactor

			red, green, blue := r.SampleColor(uvw, ds)
			out.SetRGB(imU, imV, red, green, blue)
		}
	}
}
