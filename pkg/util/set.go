package util

// Set tracks membership of comparable values
type Set[K comparable] map[K]struct{}

// SetOf builds a set from the provided elements
func SetOf[K comparable](elements ...K) Set[K] {
	s := make(Set[K], len(elements))
	s.Add(elements...)
	return s
}

// Add inserts one or more elements into the set
func (s Set[K]) Add(keys ...K) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Remove deletes an element from the set
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether the element is in the set
func (s Set[K]) Contains(key K) bool {
	_, exists := s[key]
	return exists
}

// Len returns the number of elements in the set
func (s Set[K]) Len() int {
	return len(s)
}

// IsEmpty reports whether the set has no elements
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}
