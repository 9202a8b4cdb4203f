package analytics

// Number is the value type of a tally. Only integer types qualify: integer
// addition is associative, floating point addition is not.
type Number interface {
	~int | ~int64
}

// Tally is a typed accumulator keyed by K. Add inserts a zero entry on first
// use, so folding a multiset of additions yields the same map in any order.
type Tally[K comparable, V Number] map[K]V

// Add accumulates v under k.
func (t Tally[K, V]) Add(k K, v V) {
	t[k] += v
}

// Max returns the largest value, or zero for an empty tally.
func (t Tally[K, V]) Max() V {
	var m V
	first := true
	for _, v := range t {
		if first || v > m {
			m = v
			first = false
		}
	}
	return m
}

// Sum returns the total of all values.
func (t Tally[K, V]) Sum() V {
	var s V
	for _, v := range t {
		s += v
	}
	return s
}

// Matrix is a two-level Tally.
type Matrix[A, B comparable, V Number] map[A]Tally[B, V]

// Add accumulates v under (a, b), creating the inner tally if needed.
func (m Matrix[A, B, V]) Add(a A, b B, v V) {
	inner, ok := m[a]
	if !ok {
		inner = make(Tally[B, V])
		m[a] = inner
	}
	inner.Add(b, v)
}

// Sum returns the total over all cells.
func (m Matrix[A, B, V]) Sum() V {
	var s V
	for _, inner := range m {
		s += inner.Sum()
	}
	return s
}
