package lantern

// editDistance returns the Levenshtein distance between a and b, giving up
// early once the distance provably exceeds maxDist (the return is then some
// value > maxDist).
func editDistance(a, b []rune, maxDist int) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDist {
		return diff
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			d := prev[j-1] + cost
			if ins := cur[j-1] + 1; ins < d {
				d = ins
			}
			if del := prev[j] + 1; del < d {
				d = del
			}
			cur[j] = d
			if d < rowMin {
				rowMin = d
			}
		}
		if rowMin > maxDist {
			return rowMin
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// wildcardMatch reports whether s matches a pattern of literals, '?' (one
// char) and '*' (any run, including empty).
func wildcardMatch(pattern, s string) bool {
	p := []rune(pattern)
	t := []rune(s)

	pi, ti := 0, 0
	star, starTi := -1, 0
	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == t[ti]):
			pi++
			ti++
		case pi < len(p) && p[pi] == '*':
			star = pi
			starTi = ti
			pi++
		case star >= 0:
			// Backtrack: let the last star absorb one more char.
			pi = star + 1
			starTi++
			ti = starTi
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
