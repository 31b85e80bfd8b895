package core

// OrdEpsilon is the smallest gap between sibling ords before the siblings
// are renumbered.
const OrdEpsilon = 1e-6

// OrdAt picks the ord for inserting at index among siblings sorted by ord.
// A nil index appends. When the two neighbours are closer than OrdEpsilon,
// renumber is true and the returned ord assumes the siblings were first
// renumbered to 0..n-1.
func OrdAt(siblings []float64, index *int) (ord float64, renumber bool) {
	n := len(siblings)
	pos := n
	if index != nil {
		pos = min(max(*index, 0), n)
	}
	switch {
	case n == 0:
		return 0, false
	case pos == 0:
		return siblings[0] - 1, false
	case pos == n:
		return siblings[n-1] + 1, false
	}
	if siblings[pos]-siblings[pos-1] < OrdEpsilon {
		return float64(pos) - 0.5, true
	}
	return (siblings[pos-1] + siblings[pos]) / 2, false
}
