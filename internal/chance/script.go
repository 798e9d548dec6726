package chance

// Script is a Source that replays fixed draws. Once a queue is exhausted it
// falls back to Fallback (or to 0 / 0.0 when Fallback is nil). Values from
// Ints are reduced modulo n so a script stays valid for any range.
type Script struct {
	Ints     []int
	Floats   []float64
	Fallback Source
}

// IntN returns the next scripted integer modulo n
func (s *Script) IntN(n int) int {
	if n <= 0 {
		panic("chance: IntN with non-positive n")
	}
	if len(s.Ints) == 0 {
		if s.Fallback != nil {
			return s.Fallback.IntN(n)
		}
		return 0
	}
	v := s.Ints[0]
	s.Ints = s.Ints[1:]
	if v < 0 {
		v = -v
	}
	return v % n
}

// Float64 returns the next scripted float
func (s *Script) Float64() float64 {
	if len(s.Floats) == 0 {
		if s.Fallback != nil {
			return s.Fallback.Float64()
		}
		return 0
	}
	v := s.Floats[0]
	s.Floats = s.Floats[1:]
	return v
}
