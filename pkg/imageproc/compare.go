package imageproc

// DiffPixelCount counts pixels whose mean absolute channel difference
// exceeds threshold*255. Both frames must be packed RGB24 of the same
// dimensions; callers validate that.
func DiffPixelCount(a, b []byte, width, height int, threshold float64) int {
	limit := int(threshold * 255)
	n := width * height
	a = a[:n*3]
	b = b[:n*3]

	count := 0
	for i := 0; i < n*3; i += 3 {
		sum := absDiff(a[i], b[i]) + absDiff(a[i+1], b[i+1]) + absDiff(a[i+2], b[i+2])
		if sum/3 > limit {
			count++
		}
	}
	return count
}

func absDiff(x, y uint8) int {
	if x > y {
		return int(x - y)
	}
	return int(y - x)
}
