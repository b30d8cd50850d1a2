package graph

// editDistance computes the edit distance between s1 and s2 counting
// insertions and deletions, plus substitutions when allowReplacements is
// set (the Levenshtein distance), capped at
// maxEditDistance+1 once a row provably exceeds it. Grounded in the
// teacher's edit_distance.go.
func editDistance(s1, s2 string, allowReplacements bool, maxEditDistance int) int {
	m, n := len(s1), len(s2)
	row := make([]int, n+1)
	for i := 1; i <= n; i++ {
		row[i] = i
	}

	min2 := func(a, b int) int {
		if a < b {
			return a
		}
		return b
	}

	for y := 1; y <= m; y++ {
		row[0] = y
		bestThisRow := row[0]
		previous := y - 1
		for x := 1; x <= n; x++ {
			oldRow := row[x]
			if allowReplacements {
				if s1[y-1] == s2[x-1] {
					row[x] = min2(previous, min2(row[x-1], row[x])+1)
				} else {
					row[x] = min2(previous+1, min2(row[x-1], row[x])+1)
				}
			} else {
				if s1[y-1] == s2[x-1] {
					row[x] = previous
				} else {
					row[x] = min2(row[x-1], row[x]) + 1
				}
			}
			previous = oldRow
			bestThisRow = min2(bestThisRow, row[x])
		}
		if maxEditDistance != 0 && bestThisRow > maxEditDistance {
			return maxEditDistance + 1
		}
	}
	return row[n]
}

// SpellcheckNode finds the interned node whose path most closely resembles
// path (within a small edit distance), for "did you mean" diagnostics on an
// unknown target.
func (g *Graph) SpellcheckNode(path string) *Node {
	const maxValidEditDistance = 3
	minDistance := maxValidEditDistance + 1
	var result *Node
	for p, n := range g.paths {
		d := editDistance(p, path, true, maxValidEditDistance)
		if d < minDistance {
			minDistance = d
			result = n
		}
	}
	return result
}
