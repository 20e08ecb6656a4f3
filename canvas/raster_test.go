package canvas

import (
	"testing"

	"designboard/core"
)

func freehand(id string, createdAt int64, points ...core.Point) core.DrawingRecord {
	return core.DrawingRecord{
		ID:        id,
		Type:      core.DrawingFreehand,
		Points:    points,
		Color:     "#ff0000",
		Width:     2,
		Opacity:   1,
		CreatedAt: createdAt,
	}
}

func shape(id string, typ core.DrawingType, createdAt int64, a, b core.Point) core.DrawingRecord {
	return core.DrawingRecord{
		ID:        id,
		Type:      typ,
		Points:    []core.Point{a, b},
		Color:     "#0000ff",
		Width:     1,
		Opacity:   1,
		CreatedAt: createdAt,
	}
}

func nonEmpty(r *Raster) bool {
	for _, v := range r.Pix {
		if v != 0 {
			return true
		}
	}
	return false
}

func TestReplay_Deterministic(t *testing.T) {
	records := []core.DrawingRecord{
		freehand("d1", 1, core.Point{X: 2, Y: 2}, core.Point{X: 30, Y: 10}, core.Point{X: 40, Y: 35}),
		shape("d2", core.DrawingRectangle, 2, core.Point{X: 5, Y: 5}, core.Point{X: 25, Y: 20}),
		shape("d3", core.DrawingCircle, 3, core.Point{X: 10, Y: 10}, core.Point{X: 44, Y: 40}),
		shape("d4", core.DrawingArrow, 4, core.Point{X: 0, Y: 48}, core.Point{X: 48, Y: 0}),
	}
	records[0].Smooth = true
	records[1].Fill = true
	records[2].Dash = []float64{4, 2}
	records[3].Roughness = 1.5

	first := Replay(records, 50, 50)
	second := Replay(records, 50, 50)

	if !nonEmpty(first) {
		t.Fatal("Replay produced an empty surface")
	}
	if !first.Equal(second) {
		t.Error("Replaying the same sequence twice produced different pixels")
	}
}

func TestDraw_ZeroOpacityPaintsNothing(t *testing.T) {
	rec := freehand("transparent", 1, core.Point{X: 2, Y: 2}, core.Point{X: 40, Y: 40})
	rec.Opacity = 0

	if err := Validate(rec); err != nil {
		t.Fatalf("Zero opacity should be valid: %v", err)
	}

	surface := Replay([]core.DrawingRecord{rec}, 50, 50)
	if nonEmpty(surface) {
		t.Error("Fully transparent record painted pixels")
	}

	// The same stroke at full opacity must still paint.
	rec.Opacity = 1
	if !nonEmpty(Replay([]core.DrawingRecord{rec}, 50, 50)) {
		t.Error("Opaque control record painted nothing")
	}
}

func TestReplay_OrderIsByTimestamp(t *testing.T) {
	red := core.DrawingRecord{
		ID: "late", Type: core.DrawingRectangle, CreatedAt: 2,
		Points: []core.Point{{X: 0, Y: 0}, {X: 9, Y: 9}},
		Color:  "#ff0000", Width: 1, Opacity: 1, Fill: true,
	}
	blue := core.DrawingRecord{
		ID: "early", Type: core.DrawingRectangle, CreatedAt: 1,
		Points: []core.Point{{X: 0, Y: 0}, {X: 9, Y: 9}},
		Color:  "#0000ff", Width: 1, Opacity: 1, Fill: true,
	}

	// Same pixel set; the later timestamp must paint on top regardless of
	// slice order.
	forward := Replay([]core.DrawingRecord{blue, red}, 10, 10)
	reversed := Replay([]core.DrawingRecord{red, blue}, 10, 10)

	if !forward.Equal(reversed) {
		t.Error("Replay order depended on slice order instead of timestamps")
	}
	if forward.Pix[0] != 255 || forward.Pix[2] != 0 {
		t.Errorf("Later record did not win: pixel = %v", forward.Pix[0:4])
	}
}

func TestReplay_RoughJitterIsSeededByRecordID(t *testing.T) {
	rough := freehand("jitter-1", 1, core.Point{X: 5, Y: 5}, core.Point{X: 40, Y: 40})
	rough.Roughness = 3

	first := Replay([]core.DrawingRecord{rough}, 50, 50)
	second := Replay([]core.DrawingRecord{rough}, 50, 50)
	if !first.Equal(second) {
		t.Error("Rough rendering is not deterministic for the same record id")
	}

	other := rough
	other.ID = "jitter-2"
	third := Replay([]core.DrawingRecord{other}, 50, 50)
	if first.Equal(third) {
		t.Error("Different record ids produced identical jitter")
	}
}

func TestReplay_SmoothDiffersFromStraight(t *testing.T) {
	points := []core.Point{{X: 2, Y: 40}, {X: 20, Y: 2}, {X: 45, Y: 40}}

	straight := freehand("s", 1, points...)
	smooth := freehand("s", 1, points...)
	smooth.Smooth = true

	a := Replay([]core.DrawingRecord{straight}, 50, 50)
	b := Replay([]core.DrawingRecord{smooth}, 50, 50)
	if a.Equal(b) {
		t.Error("Smoothed stroke rendered identically to straight segments")
	}
}

func TestReplay_DashedLeavesGaps(t *testing.T) {
	solid := freehand("d", 1, core.Point{X: 0, Y: 5}, core.Point{X: 49, Y: 5})
	dashed := freehand("d", 1, core.Point{X: 0, Y: 5}, core.Point{X: 49, Y: 5})
	dashed.Dash = []float64{3, 3}

	a := Replay([]core.DrawingRecord{solid}, 50, 10)
	b := Replay([]core.DrawingRecord{dashed}, 50, 10)

	painted := func(r *Raster) int {
		n := 0
		for i := 3; i < len(r.Pix); i += 4 {
			if r.Pix[i] != 0 {
				n++
			}
		}
		return n
	}
	if painted(b) >= painted(a) {
		t.Errorf("Dashed stroke painted %d pixels, solid %d; expected gaps", painted(b), painted(a))
	}
	if painted(b) == 0 {
		t.Error("Dashed stroke painted nothing")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := Replay([]core.DrawingRecord{
		shape("d1", core.DrawingRectangle, 1, core.Point{X: 1, Y: 1}, core.Point{X: 8, Y: 8}),
	}, 10, 10)

	decoded, ok := DecodeRaster(r.Encode())
	if !ok {
		t.Fatal("DecodeRaster rejected encoded surface")
	}
	if !r.Equal(decoded) {
		t.Error("Encode/decode round trip lost pixels")
	}

	if _, ok := DecodeRaster([]byte{1, 2, 3}); ok {
		t.Error("DecodeRaster accepted a truncated buffer")
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		rec     core.DrawingRecord
		wantErr bool
	}{
		{"valid freehand", freehand("a", 1, core.Point{}, core.Point{X: 1}), false},
		{"missing id", core.DrawingRecord{Type: core.DrawingFreehand, Points: []core.Point{{}, {}}, Width: 1}, true},
		{"one point freehand", freehand("a", 1, core.Point{}), true},
		{"three point rectangle", core.DrawingRecord{ID: "a", Type: core.DrawingRectangle, Points: []core.Point{{}, {}, {}}, Width: 1}, true},
		{"unknown type", core.DrawingRecord{ID: "a", Type: "scribble", Points: []core.Point{{}, {}}, Width: 1}, true},
		{"zero width", core.DrawingRecord{ID: "a", Type: core.DrawingArrow, Points: []core.Point{{}, {}}, Width: 0}, true},
		{"opacity out of range", core.DrawingRecord{ID: "a", Type: core.DrawingArrow, Points: []core.Point{{}, {}}, Width: 1, Opacity: 1.5}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.rec)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate error mismatch: got %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLog_AppendAndOrder(t *testing.T) {
	log := NewLog()
	second := freehand("b", 2, core.Point{}, core.Point{X: 1})
	first := freehand("a", 1, core.Point{}, core.Point{X: 1})
	second.LayerID = "l1"
	first.LayerID = "l1"

	if err := log.Append(second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(freehand("bad", 3, core.Point{})); err == nil {
		t.Error("Append accepted an invalid record")
	}

	records := log.Records("l1")
	if len(records) != 2 || records[0].ID != "a" || records[1].ID != "b" {
		t.Errorf("Replay order mismatch: %+v", records)
	}
	if got := log.Records("other"); len(got) != 0 {
		t.Errorf("Layer filter mismatch: got %d records", len(got))
	}
}
