package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("expected unit norm, got %f", sum)
	}

	zero := []float32{0, 0, 0}
	NormalizeL2(zero)
	for _, x := range zero {
		if x != 0 {
			t.Error("zero vector should be unchanged")
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(1.5, 0, 1) != 1 {
		t.Error("clamp high")
	}
	if Clamp(-0.5, 0, 1) != 0 {
		t.Error("clamp low")
	}
	if Clamp(0.5, 0, 1) != 0.5 {
		t.Error("clamp passthrough")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 3); got != "hel..." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("hi", 10); got != "hi" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("hi", 0); got != "hi" {
		t.Errorf("got %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		l, err := NewLogger(debug)
		if err != nil {
			t.Fatal(err)
		}
		if l == nil {
			t.Fatal("nil logger")
		}
	}
}
