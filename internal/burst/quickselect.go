// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package burst

// medianInt16 returns the median of buf using an in-place quickselect
// (spec.md §4.6: "Median uses quickselect (in-place on a scratch
// buffer)"), avoiding a full sort for what is otherwise an O(n log n) step.
func medianInt16(buf []int32) float32 {
	n := len(buf)
	if n == 0 {
		return 0
	}
	mid := quickselect(buf, n/2)
	if n%2 == 1 {
		return float32(mid)
	}
	// Even count: the true median also needs the predecessor of the
	// upper-middle element; quickselect already partitioned buf around
	// index n/2, so the max of the lower half is adjacent.
	lowerMax := buf[0]
	for _, v := range buf[:n/2] {
		if v > lowerMax {
			lowerMax = v
		}
	}
	return float32(lowerMax+mid) / 2
}

// quickselect returns the k-th smallest element of buf (0-indexed),
// partitioning buf in place (Hoare-style, Lomuto partition scheme).
func quickselect(buf []int32, k int) int32 {
	lo, hi := 0, len(buf)-1
	for lo < hi {
		p := partition(buf, lo, hi)
		switch {
		case p == k:
			return buf[p]
		case p < k:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
	return buf[lo]
}

func partition(buf []int32, lo, hi int) int {
	pivot := buf[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if buf[j] < pivot {
			buf[i], buf[j] = buf[j], buf[i]
			i++
		}
	}
	buf[i], buf[hi] = buf[hi], buf[i]
	return i
}
