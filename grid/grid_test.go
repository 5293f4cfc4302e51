package grid

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/gpucore"
)

func TestLevelGeometry(t *testing.T) {
	s := Settings{
		Resolution:      [3]int{8, 4, 12},
		NumGridLevels:   4,
		GridSubdivision: 4,
		BaseCellSize:    2,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	scale := uint32(1)
	cell := float32(2)
	for l := range 4 {
		r := s.LevelResolution(l)
		want := [4]uint32{8 * scale, 4 * scale, 12 * scale, scale}
		if r != want {
			t.Errorf("LevelResolution(%d) = %v, want %v", l, r, want)
		}
		if got := s.LevelCellSize(l); got != cell {
			t.Errorf("LevelCellSize(%d) = %v, want %v", l, got, cell)
		}
		if got := s.CellCount(l); got != want[0]*want[1]*want[2] {
			t.Errorf("CellCount(%d) = %d", l, got)
		}
		if l > 0 {
			prev := s.LevelResolution(l - 1)
			if r[0] <= prev[0] || s.LevelCellSize(l) >= s.LevelCellSize(l-1) {
				t.Errorf("level %d does not refine level %d", l, l-1)
			}
		}
		scale *= 4
		cell /= 4
	}
}

func TestSettingsValidate(t *testing.T) {
	base := Settings{Resolution: [3]int{4, 4, 4}, NumGridLevels: 2, GridSubdivision: 2, BaseCellSize: 1}
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   error
	}{
		{"valid", func(*Settings) {}, nil},
		{"too many levels", func(s *Settings) { s.NumGridLevels = MaxLevels + 1 }, ErrTooManyLevels},
		{"zero levels", func(s *Settings) { s.NumGridLevels = 0 }, ErrInvalidSettings},
		{"resolution not multiple of group", func(s *Settings) { s.Resolution[1] = 6 }, ErrInvalidSettings},
		{"negative cell size", func(s *Settings) { s.BaseCellSize = -1 }, ErrInvalidSettings},
		{"subdivision one", func(s *Settings) { s.GridSubdivision = 1 }, ErrInvalidSettings},
		{"finest axis wraps 32 bits", func(s *Settings) {
			s.Resolution[0] = 1 << 30
			s.NumGridLevels = 4
			s.GridSubdivision = 4
		}, ErrInvalidSettings},
		{"finest level too many cells", func(s *Settings) {
			s.Resolution = [3]int{1024, 1024, 1024}
			s.GridSubdivision = 8
		}, ErrInvalidSettings},
		{"subdivision overflows", func(s *Settings) {
			s.GridSubdivision = 1 << 20
			s.NumGridLevels = 4
		}, ErrInvalidSettings},
		{"largest axis", func(s *Settings) {
			s.Resolution = [3]int{1 << 20, 4, 4}
			s.NumGridLevels = 3
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMaxLevelsIsEven(t *testing.T) {
	if MaxLevels%2 != 0 {
		t.Fatalf("MaxLevels = %d must be even", MaxLevels)
	}
	if RecordIndirectAddrOffset != 8*int(FieldCount) {
		t.Errorf("RecordIndirectAddrOffset = %d, want %d", RecordIndirectAddrOffset, 8*int(FieldCount))
	}
	if TableSize%16 != 0 || RecordSize%16 != 0 {
		t.Errorf("table (%d) and record (%d) sizes must be 16-byte multiples", TableSize, RecordSize)
	}
}

func TestRecordEncodeDecode(t *testing.T) {
	r := IndirectionRecord{
		Indirect:    0x1234_0000_0010,
		Resolution:  [4]uint32{16, 16, 16, 4},
		Center:      mgl32.Vec3{1, -2, 3},
		CellSize:    0.25,
		Level:       1,
		LiveCells:   77,
		Subdivision: 4,
		CellCount:   4096,
	}
	for i := range r.Fields {
		r.Fields[i] = gpucore.DeviceAddress(uint64(i+1) << 32)
	}
	buf := r.Encode()
	if len(buf) != RecordSize {
		t.Fatalf("len = %d", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[RecordLiveCellsOffset:]); got != 77 {
		t.Errorf("live cells at offset = %d", got)
	}
	back, err := DecodeRecord(buf)
	if err != nil {
		t.Fatal(err)
	}
	if back != r {
		t.Errorf("DecodeRecord = %+v, want %+v", back, r)
	}
}

func TestNewGridUploadsHierarchy(t *testing.T) {
	dev := software.New(software.Options{})
	defer dev.Close()

	s := Settings{Resolution: [3]int{4, 4, 4}, NumGridLevels: 3, GridSubdivision: 2, BaseCellSize: 1}
	g, err := New(dev, s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Destroy()

	if g.NumSubgrids() != 3 {
		t.Fatalf("NumSubgrids = %d", g.NumSubgrids())
	}
	table, err := dev.ReadBuffer(g.Table(), 0, TableSize)
	if err != nil {
		t.Fatal(err)
	}
	for l := range 3 {
		sg := g.Level(l)
		addr := binary.LittleEndian.Uint64(table[8*l:])
		if gpucore.DeviceAddress(addr) != dev.BufferAddress(sg.Record) {
			t.Errorf("table[%d] = %#x, want record address", l, addr)
		}
		raw, err := dev.ReadBuffer(sg.Record, 0, RecordSize)
		if err != nil {
			t.Fatal(err)
		}
		rec, _ := DecodeRecord(raw)
		if rec.Resolution != s.LevelResolution(l) || rec.Level != uint32(l) {
			t.Errorf("record %d = %+v", l, rec)
		}
		for f := range FieldCount {
			if rec.Fields[f] == 0 || rec.Fields[f] != sg.Addresses[f] {
				t.Errorf("record %d field %s address = %#x", l, f, rec.Fields[f])
			}
		}
		wantLive := uint32(0)
		if l == 0 {
			wantLive = sg.CellCount()
		}
		if rec.LiveCells != wantLive {
			t.Errorf("record %d live = %d, want %d", l, rec.LiveCells, wantLive)
		}
	}
	if binary.LittleEndian.Uint64(table[8*3:]) != 0 {
		t.Error("unused table slot must hold the null address")
	}

	density, err := g.ReadField(2, FieldDensity)
	if err != nil {
		t.Fatal(err)
	}
	if len(density) != 16*16*16 {
		t.Fatalf("len(density) = %d", len(density))
	}
	for i, v := range density {
		if v != 0 {
			t.Fatalf("density[%d] = %v, want zero-initialized", i, v)
		}
	}
}

func TestNewGridRejectsInvalidSettings(t *testing.T) {
	dev := software.New(software.Options{})
	_, err := New(dev, Settings{Resolution: [3]int{5, 4, 4}})
	if !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("New = %v, want ErrInvalidSettings", err)
	}
}

func TestIndexCoords(t *testing.T) {
	res := [4]uint32{3, 5, 7, 1}
	for idx := uint32(0); idx < 3*5*7; idx++ {
		x, y, z := Coords(res, idx)
		if Index(res, x, y, z) != idx {
			t.Fatalf("round trip failed at %d", idx)
		}
	}
}
