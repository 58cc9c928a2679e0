package detection

import "sort"

// NonMaxSuppression keeps the highest scoring boxes and drops any box whose
// IoU with an already kept box exceeds iouThreshold. Boxes are ordered by
// confidence with a stable sort, so equal scores keep their input order.
// At most limit boxes are returned.
func NonMaxSuppression(dets []Detection, iouThreshold float64, limit int) []Detection {
	if len(dets) == 0 || limit <= 0 {
		return nil
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	active := make([]bool, len(sorted))
	for i := range active {
		active[i] = true
	}
	remaining := len(sorted)

	var kept []Detection
	for i := range sorted {
		if !active[i] {
			continue
		}
		kept = append(kept, sorted[i])
		remaining--
		if len(kept) >= limit || remaining == 0 {
			break
		}

		for j := i + 1; j < len(sorted); j++ {
			if !active[j] {
				continue
			}
			if IoU(sorted[i].Rect, sorted[j].Rect) > iouThreshold {
				active[j] = false
				remaining--
			}
		}
		if remaining == 0 {
			break
		}
	}
	return kept
}
