package citation

// BibliographicCoupling maps every other resource to the number of distinct
// targets it shares with id. Self-loops are ignored and id never appears.
func (s *Snapshot) BibliographicCoupling(id int64) map[int64]int {
	counts := make(map[int64]int)

	idx := s.index()
	i, ok := idx.pos[id]
	if !ok {
		return counts
	}

	// Arcs are distinct per ordered pair, so each shared target counts once.
	for _, t := range idx.out[i] {
		for _, src := range idx.in[t.to] {
			if src.to == i {
				continue
			}
			counts[idx.nodes[src.to]]++
		}
	}
	return counts
}

// CoCitation maps every other resource to the number of distinct sources
// citing both it and id. Self-loops are ignored and id never appears.
func (s *Snapshot) CoCitation(id int64) map[int64]int {
	counts := make(map[int64]int)

	idx := s.index()
	i, ok := idx.pos[id]
	if !ok {
		return counts
	}

	for _, src := range idx.in[i] {
		for _, t := range idx.out[src.to] {
			if t.to == i {
				continue
			}
			counts[idx.nodes[t.to]]++
		}
	}
	return counts
}
