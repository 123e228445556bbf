package wasmgen

import "testing"

func TestAppendULEB(t *testing.T) {
	cases := map[uint64][]byte{
		0:   {0x00},
		1:   {0x01},
		127: {0x7F},
		128: {0x80, 0x01},
		300: {0xAC, 0x02},
	}
	for v, want := range cases {
		got := appendULEB(nil, v)
		if !bytesEqual(got, want) {
			t.Errorf("appendULEB(%d) = % X, want % X", v, got, want)
		}
	}
}

func TestAppendSLEB(t *testing.T) {
	cases := map[int64][]byte{
		0:   {0x00},
		1:   {0x01},
		-1:  {0x7F},
		63:  {0x3F},
		64:  {0xC0, 0x00},
		-64: {0x40},
		-65: {0xBF, 0x7F},
	}
	for v, want := range cases {
		got := appendSLEB(nil, v)
		if !bytesEqual(got, want) {
			t.Errorf("appendSLEB(%d) = % X, want % X", v, got, want)
		}
	}
}

func TestSectionFraming(t *testing.T) {
	got := section(0x01, []byte{0xAA, 0xBB})
	want := []byte{0x01, 0x02, 0xAA, 0xBB}
	if !bytesEqual(got, want) {
		t.Errorf("section() = % X, want % X", got, want)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
