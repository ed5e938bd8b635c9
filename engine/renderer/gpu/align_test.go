package gpu

import "testing"

func TestAlignUp(t *testing.T) {
	cases := []struct {
		v, a, want uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{32, 32, 32},
		{96, 64, 128},
		{7, 0, 7},
	}
	for _, c := range cases {
		if got := AlignUp(c.v, c.a); got != c.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", c.v, c.a, got, c.want)
		}
	}
	if got := AlignUp[uint32](33, 16); got != 48 {
		t.Errorf("AlignUp[uint32](33, 16) = %d", got)
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint32{1, 2, 32, 64, 256} {
		if !IsPowerOfTwo(v) {
			t.Errorf("%d is a power of two", v)
		}
	}
	for _, v := range []uint32{0, 3, 48, 100} {
		if IsPowerOfTwo(v) {
			t.Errorf("%d is not a power of two", v)
		}
	}
}

func TestAsBytes(t *testing.T) {
	v := []uint16{0x0102, 0x0304}
	b := AsBytes(v)
	if len(b) != 4 {
		t.Fatalf("len = %d, want 4", len(b))
	}
	if AsBytes([]float32{}) != nil {
		t.Fatal("empty slice must map to nil")
	}
	x := struct{ A, B float32 }{1, 2}
	if len(ValueBytes(&x)) != 8 || SizeOf[struct{ A, B float32 }]() != 8 {
		t.Fatal("unexpected value size")
	}
}

func TestIndexTypeSize(t *testing.T) {
	if IndexTypeUint8.Size() != 1 || IndexTypeUint16.Size() != 2 || IndexTypeUint32.Size() != 4 {
		t.Fatal("unexpected index sizes")
	}
}
