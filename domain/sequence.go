package domain

// Placement pairs an entity identifier with its position among
// siblings (lists in a board, tasks in a list).
type Placement struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Reorder moves movedID to newPos within siblings and renumbers the
// result densely from zero. newPos is clamped to the valid range. The
// input must already be in display order; the output always satisfies
// the contiguity invariant regardless of the input's order values.
func Reorder(siblings []Placement, movedID string, newPos int) []Placement {
	idx := -1
	for i, p := range siblings {
		if p.ID == movedID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Renumber(siblings)
	}

	if newPos < 0 {
		newPos = 0
	}
	if newPos > len(siblings)-1 {
		newPos = len(siblings) - 1
	}

	out := make([]Placement, 0, len(siblings))
	out = append(out, siblings[:idx]...)
	out = append(out, siblings[idx+1:]...)
	moved := siblings[idx]
	out = append(out[:newPos], append([]Placement{moved}, out[newPos:]...)...)
	for i := range out {
		out[i].Order = i
	}
	return out
}

// Renumber reassigns orders 0..n-1 in the given sequence, closing any
// gap left by a deletion.
func Renumber(siblings []Placement) []Placement {
	out := make([]Placement, len(siblings))
	copy(out, siblings)
	for i := range out {
		out[i].Order = i
	}
	return out
}

// Changed returns the placements from after whose order differs from
// their order in before. These are the siblings the caller must write
// back alongside the primary mutation.
func Changed(before, after []Placement) []Placement {
	prev := make(map[string]int, len(before))
	for _, p := range before {
		prev[p.ID] = p.Order
	}
	var out []Placement
	for _, p := range after {
		if old, ok := prev[p.ID]; !ok || old != p.Order {
			out = append(out, p)
		}
	}
	return out
}
