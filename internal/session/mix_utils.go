package session

// EffectiveVolume converts a member volume and the master volume (both
// 0–100) into the 0.0–1.0 playback volume.
func EffectiveVolume(memberVolume, masterVolume int) float64 {
	return (float64(memberVolume) / 100) * (float64(masterVolume) / 100)
}

// validVolume reports whether v is within 0–MaxVolume.
func validVolume(v int) bool {
	return v >= 0 && v <= MaxVolume
}

// isPermutation reports whether next holds exactly the ids of current,
// each once, in any order.
func isPermutation(current, next []string) bool {
	if len(current) != len(next) {
		return false
	}
	counts := make(map[string]int, len(current))
	for _, id := range current {
		counts[id]++
	}
	for _, id := range next {
		if counts[id] == 0 {
			return false
		}
		counts[id]--
	}
	return true
}

// insertAt returns order with id inserted at index, or appended when index
// is nil or outside [0, len(order)].
func insertAt(order []string, id string, index *int) []string {
	out := make([]string, 0, len(order)+1)
	if index == nil || *index < 0 || *index > len(order) {
		out = append(out, order...)
		return append(out, id)
	}
	out = append(out, order[:*index]...)
	out = append(out, id)
	return append(out, order[*index:]...)
}

// without returns order minus id.
func without(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, o := range order {
		if o != id {
			out = append(out, o)
		}
	}
	return out
}
