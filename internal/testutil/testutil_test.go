package testutil

import (
	"bytes"
	"testing"

	"github.com/banshee-data/lexi.report/internal/telemetry"
)

func TestScienceFrameLayout(t *testing.T) {
	t.Parallel()

	b := ScienceFrame(0x12345678, true, [4]uint16{1, 2, 3, 0xFFFF})
	want := []byte{
		0xFE, 0x6B, 0x28, 0x40,
		0x52, 0x34, 0x56, 0x78, // 0x12345678 with bit30 set
		0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0xFF, 0xFF,
	}
	if !bytes.Equal(b, want) {
		t.Errorf("ScienceFrame = % X, want % X", b, want)
	}
}

func TestHKFrameLayout(t *testing.T) {
	t.Parallel()

	b := HKFrame(7, 3, 0xABC, 10, 11, 12)
	if len(b) != telemetry.FrameSize {
		t.Fatalf("len = %d, want %d", len(b), telemetry.FrameSize)
	}
	if b[4]&0x80 == 0 {
		t.Error("housekeeping frame must set bit 31 of the type word")
	}
	if b[8] != 0x3A || b[9] != 0xBC {
		t.Errorf("status word = %02X%02X, want 3ABC", b[8], b[9])
	}
}

func TestSlipNeverContainsSync(t *testing.T) {
	t.Parallel()

	if bytes.Contains(Slip(64), telemetry.SyncBytes[:]) {
		t.Error("Slip output must not contain the sync marker")
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	got := Concat([]byte{1}, nil, []byte{2, 3})
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Concat = %v", got)
	}
}
