package volumes

// OverlayVolume alpha-blends two Volumes sample-for-sample, grounded on
// original_source/src/volume/overlay.rs's OverlayVolume.
type OverlayVolume struct {
	First, Second Volume
	Alpha         float64 // 0 == pure First, 1 == pure Second
}

// NewOverlayVolume blends first and second with the given alpha.
func NewOverlayVolume(first, second Volume, alpha float64) *OverlayVolume {
	return &OverlayVolume{First: first, Second: second, Alpha: alpha}
}

func blend(a, b uint8, alpha float64) uint8 {
	v := float64(a)*(1.0-alpha) + float64(b)*alpha
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (o *OverlayVolume) Sample(xyz [3]float64, ds int) uint8 {
	first := o.First.Sample(xyz, ds)
	second := o.Second.Sample(xyz, ds)
	return blend(first, second, o.Alpha)
}

func (o *OverlayVolume) SampleInterpolated(xyz [3]float64, ds int) uint8 {
	first := o.First.SampleInterpolated(xyz, ds)
	second := o.Second.SampleInterpolated(xyz, ds)
	return blend(first, second, o.Alpha)
}

// Paint blends each backend's own Paint output pixel-by-pixel; the
// original Rust left this unimplemented (todo!()) since its UI never
// painted an overlay directly, only sampled through it.
func (o *OverlayVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	firstOut := NewGrayImage(width, height)
	secondOut := NewGrayImage(width, height)
	o.First.Paint(center, axes, width, height, ds, paintZoom, cfg, firstOut)
	o.Second.Paint(center, axes, width, height, ds, paintZoom, cfg, secondOut)
	for i := range out.Gray {
		out.Gray[i] = blend(firstOut.Gray[i], secondOut.Gray[i], o.Alpha)
	}
}
