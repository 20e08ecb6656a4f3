package canvas

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math"

	"designboard/core"
)

// Raster is an RGBA surface. Rendering uses integer blending and fixed-step
// sampling only, so identical record sequences produce identical pixels on
// every client.
type Raster struct {
	W, H int
	Pix  []uint8 // RGBA, 4 bytes per pixel, row-major
}

// NewRaster creates a transparent surface.
func NewRaster(w, h int) *Raster {
	return &Raster{W: w, H: h, Pix: make([]uint8, w*h*4)}
}

// Replay renders the ordered record sequence onto a fresh surface.
func Replay(records []core.DrawingRecord, w, h int) *Raster {
	r := NewRaster(w, h)
	for _, rec := range Order(records) {
		r.Draw(rec)
	}
	return r
}

// Draw renders one record. A fully transparent record paints nothing.
func (r *Raster) Draw(rec core.DrawingRecord) {
	if rec.Opacity <= 0 {
		return
	}
	cr, cg, cb := parseColor(rec.Color)
	alpha := uint8(255)
	if rec.Opacity < 1 {
		alpha = uint8(math.Round(rec.Opacity * 255))
	}
	pen := pen{
		r: cr, g: cg, b: cb, a: alpha,
		size: max(1, int(rec.Width+0.5)),
		dash: rec.Dash,
	}

	points := rec.Points
	if rec.Roughness > 0 {
		// Hand-drawn style: two passes with deterministic jitter seeded
		// from the record id, so all clients draw the same wobble.
		rng := newJitter(rec.ID)
		r.drawShape(rec, jitterPoints(points, rec.Roughness, rng), pen)
		r.drawShape(rec, jitterPoints(points, rec.Roughness, rng), pen)
		return
	}
	r.drawShape(rec, points, pen)
}

func (r *Raster) drawShape(rec core.DrawingRecord, points []core.Point, pen pen) {
	switch rec.Type {
	case core.DrawingFreehand:
		if rec.Smooth {
			r.smoothPolyline(points, pen)
		} else {
			r.polyline(points, pen)
		}
	case core.DrawingRectangle:
		r.rectangle(points[0], points[1], rec.Fill, pen)
	case core.DrawingCircle:
		r.ellipse(points[0], points[1], rec.Fill, pen)
	case core.DrawingArrow:
		r.arrow(points[0], points[1], pen)
	}
}

// Equal reports pixel equivalence.
func (r *Raster) Equal(other *Raster) bool {
	return r.W == other.W && r.H == other.H && bytes.Equal(r.Pix, other.Pix)
}

// Encode serializes the surface for the undo history.
func (r *Raster) Encode() []byte {
	buf := make([]byte, 8+len(r.Pix))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.W))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.H))
	copy(buf[8:], r.Pix)
	return buf
}

// DecodeRaster restores a surface serialized by Encode.
func DecodeRaster(data []byte) (*Raster, bool) {
	if len(data) < 8 {
		return nil, false
	}
	w := int(binary.LittleEndian.Uint32(data[0:4]))
	h := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data) != 8+w*h*4 {
		return nil, false
	}
	r := NewRaster(w, h)
	copy(r.Pix, data[8:])
	return r, true
}

type pen struct {
	r, g, b, a uint8
	size       int
	dash       []float64
}

// stamp blends a square brush centered on (x, y).
func (ra *Raster) stamp(x, y int, p pen) {
	half := p.size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			ra.blend(x+dx, y+dy, p)
		}
	}
}

// blend does integer src-over compositing.
func (ra *Raster) blend(x, y int, p pen) {
	if x < 0 || y < 0 || x >= ra.W || y >= ra.H {
		return
	}
	i := (y*ra.W + x) * 4
	a := int(p.a)
	inv := 255 - a
	ra.Pix[i] = uint8((int(p.r)*a + int(ra.Pix[i])*inv) / 255)
	ra.Pix[i+1] = uint8((int(p.g)*a + int(ra.Pix[i+1])*inv) / 255)
	ra.Pix[i+2] = uint8((int(p.b)*a + int(ra.Pix[i+2])*inv) / 255)
	outA := a + int(ra.Pix[i+3])*inv/255
	if outA > 255 {
		outA = 255
	}
	ra.Pix[i+3] = uint8(outA)
}

// line stamps fixed-step samples from a to b. traveled is the path length
// consumed so far, used to resolve the dash pattern across segments; the
// updated length is returned.
func (ra *Raster) line(a, b core.Point, p pen, traveled float64) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	steps := int(math.Max(math.Abs(dx), math.Abs(dy))) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		pos := traveled + t*length
		if !dashOn(p.dash, pos) {
			continue
		}
		x := int(math.Round(a.X + t*dx))
		y := int(math.Round(a.Y + t*dy))
		ra.stamp(x, y, p)
	}
	return traveled + length
}

func (ra *Raster) polyline(points []core.Point, p pen) {
	traveled := 0.0
	for i := 1; i < len(points); i++ {
		traveled = ra.line(points[i-1], points[i], p, traveled)
	}
}

// smoothPolyline renders quadratic curves through segment midpoints with the
// original points as control points, sampled at a fixed step count.
func (ra *Raster) smoothPolyline(points []core.Point, p pen) {
	if len(points) < 3 {
		ra.polyline(points, p)
		return
	}
	const steps = 16
	traveled := 0.0
	prev := points[0]
	for i := 1; i < len(points)-1; i++ {
		ctrl := points[i]
		end := core.Point{X: (points[i].X + points[i+1].X) / 2, Y: (points[i].Y + points[i+1].Y) / 2}
		for s := 1; s <= steps; s++ {
			t := float64(s) / steps
			q := quadratic(prev, ctrl, end, t)
			traveled = ra.line(prev, q, p, traveled)
			prev = q
		}
	}
	ra.line(prev, points[len(points)-1], p, traveled)
}

func quadratic(a, c, b core.Point, t float64) core.Point {
	u := 1 - t
	return core.Point{
		X: u*u*a.X + 2*u*t*c.X + t*t*b.X,
		Y: u*u*a.Y + 2*u*t*c.Y + t*t*b.Y,
	}
}

func (ra *Raster) rectangle(a, b core.Point, fill bool, p pen) {
	x0, x1 := math.Min(a.X, b.X), math.Max(a.X, b.X)
	y0, y1 := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	if fill {
		for y := int(math.Round(y0)); y <= int(math.Round(y1)); y++ {
			for x := int(math.Round(x0)); x <= int(math.Round(x1)); x++ {
				ra.blend(x, y, p)
			}
		}
		return
	}
	corners := []core.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
	ra.polyline(corners, p)
}

// ellipse renders the ellipse inscribed in the rectangle spanned by the two
// corner points.
func (ra *Raster) ellipse(a, b core.Point, fill bool, p pen) {
	cx, cy := (a.X+b.X)/2, (a.Y+b.Y)/2
	rx, ry := math.Abs(b.X-a.X)/2, math.Abs(b.Y-a.Y)/2
	if fill {
		for y := int(math.Round(cy - ry)); y <= int(math.Round(cy+ry)); y++ {
			for x := int(math.Round(cx - rx)); x <= int(math.Round(cx+rx)); x++ {
				nx := (float64(x) - cx) / math.Max(rx, 1)
				ny := (float64(y) - cy) / math.Max(ry, 1)
				if nx*nx+ny*ny <= 1 {
					ra.blend(x, y, p)
				}
			}
		}
		return
	}
	steps := 4*int(rx+ry) + 8
	traveled := 0.0
	prev := core.Point{X: cx + rx, Y: cy}
	for i := 1; i <= steps; i++ {
		t := 2 * math.Pi * float64(i) / float64(steps)
		next := core.Point{X: cx + rx*math.Cos(t), Y: cy + ry*math.Sin(t)}
		traveled = ra.line(prev, next, p, traveled)
		prev = next
	}
}

func (ra *Raster) arrow(a, b core.Point, p pen) {
	ra.line(a, b, p, 0)

	angle := math.Atan2(b.Y-a.Y, b.X-a.X)
	headLen := math.Min(14, math.Hypot(b.X-a.X, b.Y-a.Y)*0.3)
	const spread = math.Pi / 6
	for _, side := range []float64{angle - math.Pi + spread, angle + math.Pi - spread} {
		tip := core.Point{X: b.X + headLen*math.Cos(side), Y: b.Y + headLen*math.Sin(side)}
		ra.line(b, tip, p, 0)
	}
}

// dashOn reports whether the given path position falls in an "on" segment of
// the dash pattern. An empty pattern is solid.
func dashOn(dash []float64, pos float64) bool {
	if len(dash) == 0 {
		return true
	}
	total := 0.0
	for _, d := range dash {
		total += d
	}
	if total <= 0 {
		return true
	}
	pos = math.Mod(pos, total)
	for i, d := range dash {
		if pos < d {
			return i%2 == 0
		}
		pos -= d
	}
	return true
}

func parseColor(s string) (uint8, uint8, uint8) {
	if len(s) == 7 && s[0] == '#' {
		return hexByte(s[1], s[2]), hexByte(s[3], s[4]), hexByte(s[5], s[6])
	}
	return 0, 0, 0
}

func hexByte(hi, lo byte) uint8 {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) uint8 {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// jitter is a small deterministic PRNG (xorshift64) seeded from a record id.
type jitter struct {
	state uint64
}

func newJitter(recordID string) *jitter {
	h := fnv.New64a()
	h.Write([]byte(recordID))
	seed := h.Sum64()
	if seed == 0 {
		seed = 1
	}
	return &jitter{state: seed}
}

func (j *jitter) next() float64 {
	j.state ^= j.state << 13
	j.state ^= j.state >> 7
	j.state ^= j.state << 17
	return float64(j.state%2048)/1024 - 1 // [-1, 1)
}

func jitterPoints(points []core.Point, roughness float64, rng *jitter) []core.Point {
	out := make([]core.Point, len(points))
	for i, p := range points {
		out[i] = core.Point{
			X: p.X + rng.next()*roughness,
			Y: p.Y + rng.next()*roughness,
		}
	}
	return out
}
