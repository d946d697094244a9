package volumes

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// objVec3 is a position or normal vertex.
type objVec3 struct{ X, Y, Z float64 }

// objVec2 is a texture-coordinate vertex.
type objVec2 struct{ U, V float64 }

// objTriangle indexes one face's three corners into the mesh's position,
// texture, and normal vertex arrays (0-based, already converted from
// OBJ's 1-based face indices).
type objTriangle struct {
	Pos [3]int
	Tex [3]int
	Nrm [3]int
}

// OBJMesh is a parsed Wavefront OBJ triangle mesh: positions (v), texture
// coordinates (vt), normals (vn), and triangular faces (f). Only
// triangles are supported, per spec.md §4.6.
type OBJMesh struct {
	Positions []objVec3
	TexCoords []objVec2
	Normals   []objVec3
	Triangles []objTriangle
}

// ParseOBJFile reads path and parses its v/vt/vn/f lines into an OBJMesh.
// Faces with more than 3 corners are fan-triangulated around their first
// vertex, matching the common Wavefront OBJ convention.
func ParseOBJFile(path string) (*OBJMesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mesh := &OBJMesh{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w: %v", path, lineNo, ErrFormatMismatch, err)
			}
			mesh.Positions = append(mesh.Positions, v)
		case "vn":
			v, err := parseVec3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w: %v", path, lineNo, ErrFormatMismatch, err)
			}
			mesh.Normals = append(mesh.Normals, v)
		case "vt":
			if len(fields) < 3 {
				return nil, fmt.Errorf("%s:%d: %w: malformed vt", path, lineNo, ErrFormatMismatch)
			}
			u, err1 := strconv.ParseFloat(fields[1], 64)
			v, err2 := strconv.ParseFloat(fields[2], 64)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("%s:%d: %w: malformed vt", path, lineNo, ErrFormatMismatch)
			}
			mesh.TexCoords = append(mesh.TexCoords, objVec2{U: u, V: v})
		case "f":
			corners := make([][3]int, 0, len(fields)-1)
			for _, field := range fields[1:] {
				pos, tex, nrm, err := parseFaceCorner(field)
				if err != nil {
					return nil, fmt.Errorf("%s:%d: %w: %v", path, lineNo, ErrFormatMismatch, err)
				}
				corners = append(corners, [3]int{pos, tex, nrm})
			}
			if len(corners) < 3 {
				return nil, fmt.Errorf("%s:%d: %w: face has fewer than 3 corners", path, lineNo, ErrFormatMismatch)
			}
			for i := 1; i+1 < len(corners); i++ {
				mesh.Triangles = append(mesh.Triangles, objTriangle{
					Pos: [3]int{corners[0][0], corners[i][0], corners[i+1][0]},
					Tex: [3]int{corners[0][1], corners[i][1], corners[i+1][1]},
					Nrm: [3]int{corners[0][2], corners[i][2], corners[i+1][2]},
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mesh, nil
}

func parseVec3(fields []string) (objVec3, error) {
	if len(fields) < 3 {
		return objVec3{}, fmt.Errorf("need 3 components, got %d", len(fields))
	}
	x, err1 := strconv.ParseFloat(fields[0], 64)
	y, err2 := strconv.ParseFloat(fields[1], 64)
	z, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return objVec3{}, fmt.Errorf("non-numeric component")
	}
	return objVec3{X: x, Y: y, Z: z}, nil
}

// parseFaceCorner parses one "v/vt/vn" (or "v//vn", "v") face corner,
// converting OBJ's 1-based indices to 0-based. A missing texture or
// normal index is returned as -1.
func parseFaceCorner(field string) (pos, tex, nrm int, err error) {
	parts := strings.Split(field, "/")
	pos, err = parseObjIndex(parts[0])
	if err != nil {
		return 0, 0, 0, err
	}
	tex, nrm = -1, -1
	if len(parts) >= 2 && parts[1] != "" {
		tex, err = parseObjIndex(parts[1])
		if err != nil {
			return 0, 0, 0, err
		}
	}
	if len(parts) >= 3 && parts[2] != "" {
		nrm, err = parseObjIndex(parts[2])
		if err != nil {
			return 0, 0, 0, err
		}
	}
	return pos, tex, nrm, nil
}

func parseObjIndex(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v > 0 {
		return v - 1, nil
	}
	return v, fmt.Errorf("negative/relative OBJ indices are not supported")
}

// orient2d is the standard 2-D edge function (twice the signed area of
// the triangle (u1,v1),(u2,v2),(u3,v3)); grounded on
// original_source/src/volume/objvolume.rs's orient2d.
func orient2d(u1, v1, u2, v2, u3, v3 int32) int32 {
	return (u2-u1)*(v3-v1) - (v2-v1)*(u3-u1)
}

// OBJVolume rasterizes a textured triangle mesh's chart into (u,v) space
// and delegates interior samples to an inner Volume, grounded on
// original_source/src/volume/objvolume.rs's ObjVolume, generalized from
// two hardcoded per-segment texture dimensions to explicit Width/Height
// fields set at construction time.
type OBJVolume struct {
	mesh   *OBJMesh
	inner  Volume
	Width  int
	Height int
}

// NewOBJVolume wraps mesh around inner, using (width,height) as the UV
// chart's pixel dimensions (the OBJ's texture coordinates are in [0,1]
// and are scaled into this space, with v flipped per the "(s,1-t)"
// convention of spec.md §4.6).
func NewOBJVolume(mesh *OBJMesh, inner Volume, width, height int) *OBJVolume {
	return &OBJVolume{mesh: mesh, inner: inner, Width: width, Height: height}
}

// triUV returns triangle t's three chart-space (u,v) corners as int32.
func (o *OBJVolume) triUV(t objTriangle) (u, v [3]int32) {
	for i := 0; i < 3; i++ {
		tv := o.mesh.TexCoords[t.Tex[i]]
		u[i] = int32(tv.U * float64(o.Width))
		v[i] = int32((1.0 - tv.V) * float64(o.Height))
	}
	return u, v
}

// Sample implements Volume: uvw is (u,v,w) in chart pixel space; w
// extrudes along the interpolated surface normal. Triangles are walked
// linearly with a bounding-box pre-check, matching
// objvolume.rs::convert_to_volume_coords.
func (o *OBJVolume) Sample(uvw [3]float64, ds int) uint8 {
	u := int32(uvw[0])
	v := int32(uvw[1])
	w := uvw[2]

	for _, t := range o.mesh.Triangles {
		tu, tv := o.triUV(t)

		minU, maxU := min3i32(tu[0], tu[1], tu[2]), max3i32(tu[0], tu[1], tu[2])
		minV, maxV := min3i32(tv[0], tv[1], tv[2]), max3i32(tv[0], tv[1], tv[2])
		if u < minU || u > maxU || v < minV || v > maxV {
			continue
		}

		w0 := orient2d(tu[1], tv[1], tu[2], tv[2], u, v)
		w1 := orient2d(tu[2], tv[2], tu[0], tv[0], u, v)
		w2 := orient2d(tu[0], tv[0], tu[1], tv[1], u, v)
		if w0 < 0 || w1 < 0 || w2 < 0 {
			continue
		}

		x, y, z, nx, ny, nz := o.interpolateTriangle(t, w0, w1, w2, w != 0)
		return o.inner.Sample([3]float64{
			(x + w*nx) / float64(ds),
			(y + w*ny) / float64(ds),
			(z + w*nz) / float64(ds),
		}, ds)
	}
	return 0
}

func (o *OBJVolume) interpolateTriangle(t objTriangle, w0, w1, w2 int32, withNormal bool) (x, y, z, nx, ny, nz float64) {
	invWSum := 1.0 / float64(w0+w1+w2)
	p0, p1, p2 := o.mesh.Positions[t.Pos[0]], o.mesh.Positions[t.Pos[1]], o.mesh.Positions[t.Pos[2]]
	x = (float64(w0)*p0.X + float64(w1)*p1.X + float64(w2)*p2.X) * invWSum
	y = (float64(w0)*p0.Y + float64(w1)*p1.Y + float64(w2)*p2.Y) * invWSum
	z = (float64(w0)*p0.Z + float64(w1)*p1.Z + float64(w2)*p2.Z) * invWSum
	if !withNormal {
		return x, y, z, 0, 0, 0
	}
	n0, n1, n2 := o.mesh.Normals[t.Nrm[0]], o.mesh.Normals[t.Nrm[1]], o.mesh.Normals[t.Nrm[2]]
	nx = (float64(w0)*n0.X + float64(w1)*n1.X + float64(w2)*n2.X) * invWSum
	ny = (float64(w0)*n0.Y + float64(w1)*n1.Y + float64(w2)*n2.Y) * invWSum
	nz = (float64(w0)*n0.Z + float64(w1)*n1.Z + float64(w2)*n2.Z) * invWSum
	return x, y, z, nx, ny, nz
}

func (o *OBJVolume) SampleInterpolated(uvw [3]float64, ds int) uint8 {
	return SampleInterpolatedGeneric(o, uvw, ds)
}

// paintZoomAlign rounds v down to the nearest multiple of zoom.
func paintZoomAlign(v, zoom int32) int32 {
	return (v / zoom) * zoom
}

// paintZoomAlignUp rounds v up to the nearest multiple of zoom.
func paintZoomAlignUp(v, zoom int32) int32 {
	return paintZoomAlign(v+zoom-1, zoom)
}

// Paint rasterizes every triangle overlapping the requested (u,v) window
// with the edge-function algorithm of Fabian Giesen's "Triangle
// Rasterization in Practice", matching
// objvolume.rs::PaintVolume::paint. Only the XY (u,v) cardinal plane is
// supported for OBJ surfaces, matching the Rust assertion that
// u_coord/v_coord/plane_coord are fixed at 0/1/2.
func (o *OBJVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	zoom := int32(paintZoom)
	if zoom < 1 {
		zoom = 1
	}
	wFactor := float64(center[2])
	ffactor := float64(ds)

	minU := center[0] - int32(width/2)*zoom
	maxU := center[0] + int32(width/2)*zoom
	minV := center[1] - int32(height/2)*zoom
	maxV := center[1] + int32(height/2)*zoom

	for _, t := range o.mesh.Triangles {
		tu, tv := o.triUV(t)
		tMinU, tMaxU := min3i32(tu[0], tu[1], tu[2]), max3i32(tu[0], tu[1], tu[2])
		tMinV, tMaxV := min3i32(tv[0], tv[1], tv[2]), max3i32(tv[0], tv[1], tv[2])
		if tMinU > maxU || tMaxU < minU || tMinV > maxV || tMaxV < minV {
			continue
		}

		u1i, v1i := tu[0]-minU, tv[0]-minV
		u2i, v2i := tu[1]-minU, tv[1]-minV
		u3i, v3i := tu[2]-minU, tv[2]-minV

		tminU := maxInt32(paintZoomAlign(min3i32(u1i, u2i, u3i), zoom), 0)
		tmaxU := minInt32(paintZoomAlignUp(max3i32(u1i, u2i, u3i), zoom), int32(width)*zoom-1)
		tminV := maxInt32(paintZoomAlign(min3i32(v1i, v2i, v3i), zoom), 0)
		tmaxV := minInt32(paintZoomAlignUp(max3i32(v1i, v2i, v3i), zoom), int32(height)*zoom-1)

		for v := tminV; v <= tmaxV; v += zoom {
			for u := tminU; u <= tmaxU; u += zoom {
				w0 := orient2d(u2i, v2i, u3i, v3i, u, v)
				w1 := orient2d(u3i, v3i, u1i, v1i, u, v)
				w2 := orient2d(u1i, v1i, u2i, v2i, u, v)
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}

				px := int(u / zoom)
				py := int(v / zoom)
				if px < 0 || px >= out.Width || py < 0 || py >= out.Height {
					continue
				}

				x, y, z, nx, ny, nz := o.interpolateTriangle(t, w0, w1, w2, center[2] != 0)
				value := o.inner.Sample([3]float64{
					(x + wFactor*nx) / ffactor,
					(y + wFactor*ny) / ffactor,
					(z + wFactor*nz) / ffactor,
				}, ds)
				out.SetGray(px, py, cfg.Filter(value))
			}
		}
	}
}

func min3i32(a, b, c int32) int32 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func max3i32(a, b, c int32) int32 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

