package mathx

import "testing"

func TestClamp(t *testing.T) {
	cases := []struct{ v, lo, hi, want int }{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
		{11, 10, 0, 10}, // swapped bounds
	}
	for _, c := range cases {
		if got := Clamp(c.v, c.lo, c.hi); got != c.want {
			t.Fatalf("Clamp(%d,%d,%d) = %d, want %d", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

func TestScale(t *testing.T) {
	cases := []struct{ x, in, out, want uint16 }{
		{400, 800, 320, 160},
		{0, 800, 320, 0},
		{800, 800, 320, 320},
		{900, 800, 320, 320},
		{5, 0, 320, 0},
	}
	for _, c := range cases {
		if got := Scale(c.x, c.in, c.out); got != c.want {
			t.Fatalf("Scale(%d,%d,%d) = %d, want %d", c.x, c.in, c.out, got, c.want)
		}
	}
}
