package core

// Split cuts data into min(n, len(data)) contiguous slices of near equal
// length. The first len(data)%k slices get one extra element.
func Split(data []any, n int) [][]any {
	if len(data) == 0 {
		return nil
	}
	k := min(max(n, 1), len(data))
	base, rem := len(data)/k, len(data)%k

	parts := make([][]any, 0, k)
	start := 0
	for i := range k {
		size := base
		if i < rem {
			size++
		}
		parts = append(parts, data[start:start+size])
		start += size
	}
	return parts
}

// Pairs groups consecutive elements into two-element []any pairs. An odd
// trailing element is returned as leftover.
func Pairs(data []any) (pairs []any, leftover []any) {
	n := len(data) / 2
	pairs = make([]any, 0, n)
	for i := range n {
		pairs = append(pairs, []any{data[2*i], data[2*i+1]})
	}
	return pairs, data[2*n:]
}
