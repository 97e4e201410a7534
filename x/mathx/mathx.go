package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Scale maps x in [0,inMax] to [0,outMax] with 32-bit intermediates.
// Inputs beyond inMax saturate at outMax.
func Scale[T constraints.Unsigned](x, inMax, outMax T) T {
	if inMax == 0 {
		return 0
	}
	if x >= inMax {
		return outMax
	}
	return T(uint64(x) * uint64(outMax) / uint64(inMax))
}
