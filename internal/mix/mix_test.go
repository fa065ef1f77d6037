package mix

import "testing"

func TestBlendEndpoints(t *testing.T) {
	src := []byte{0, 10, 200, 255}
	dst := []byte{255, 245, 55, 0}
	out := make([]byte, len(src))

	if err := Blend(out, src, dst, 0); err != nil {
		t.Fatalf("Blend f=0: %v", err)
	}
	for i := range src {
		if out[i] != src[i] {
			t.Errorf("f=0 byte %d = %d, want src %d", i, out[i], src[i])
		}
	}

	if err := Blend(out, src, dst, 1); err != nil {
		t.Fatalf("Blend f=1: %v", err)
	}
	for i := range dst {
		if out[i] != dst[i] {
			t.Errorf("f=1 byte %d = %d, want dst %d", i, out[i], dst[i])
		}
	}
}

func TestBlendMidpoint(t *testing.T) {
	src := []byte{0}
	dst := []byte{254}
	out := make([]byte, 1)

	if err := Blend(out, src, dst, 0.5); err != nil {
		t.Fatalf("Blend: %v", err)
	}
	if out[0] < 120 || out[0] > 135 {
		t.Fatalf("midpoint blend of 0/254 = %d, want roughly 127", out[0])
	}
}

func TestBlendClampsOutOfRangeFraction(t *testing.T) {
	src := []byte{10}
	dst := []byte{200}
	out := make([]byte, 1)

	if err := Blend(out, src, dst, -5); err != nil {
		t.Fatalf("Blend f<0: %v", err)
	}
	if out[0] != src[0] {
		t.Errorf("f<0 should clamp to src: got %d, want %d", out[0], src[0])
	}

	if err := Blend(out, src, dst, 5); err != nil {
		t.Fatalf("Blend f>1: %v", err)
	}
	if out[0] != dst[0] {
		t.Errorf("f>1 should clamp to dst: got %d, want %d", out[0], dst[0])
	}
}

func TestBlendRejectsLengthMismatch(t *testing.T) {
	out := make([]byte, 2)
	if err := Blend(out, []byte{1, 2}, []byte{1}, 0.5); err == nil {
		t.Error("expected error on src/dst length mismatch")
	}
	if err := Blend(make([]byte, 1), []byte{1, 2}, []byte{1, 2}, 0.5); err == nil {
		t.Error("expected error on out/src length mismatch")
	}
}

func TestClamp(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 0.5: 0.5, 1: 1, 2: 1}
	for in, want := range cases {
		if got := Clamp(in); got != want {
			t.Errorf("Clamp(%v) = %v, want %v", in, got, want)
		}
	}
}
