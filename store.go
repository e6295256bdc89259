package symrt

import "sort"

// Store owns every registered expression and maps handles to them.
// Handles are allocated from a monotonic sequence and never reused.
type Store struct {
	exprs   map[Handle]Expr
	handles map[Expr]Handle
	seq     Handle
}

// NewStore returns a new, empty instance of Store.
func NewStore() *Store {
	return &Store{
		exprs:   make(map[Handle]Expr),
		handles: make(map[Expr]Handle),
	}
}

// Register returns the handle for expr, allocating one if expr has not been
// registered before. A nil expression maps to Null.
func (s *Store) Register(expr Expr) Handle {
	if expr == nil {
		return Null
	} else if h, ok := s.handles[expr]; ok {
		return h
	}

	s.seq++
	s.exprs[s.seq] = expr
	s.handles[expr] = s.seq
	return s.seq
}

// Get returns the expression for h. Returns nil for Null.
// Panics if h is not registered.
func (s *Store) Get(h Handle) Expr {
	if h == Null {
		return nil
	}
	expr, ok := s.exprs[h]
	assert(ok, "unregistered expression handle: %d", h)
	return expr
}

// Lookup returns the expression for h and whether it is registered.
func (s *Store) Lookup(h Handle) (Expr, bool) {
	expr, ok := s.exprs[h]
	return expr, ok
}

// Contains returns true if expr is registered.
func (s *Store) Contains(expr Expr) bool {
	_, ok := s.handles[expr]
	return ok
}

// Len returns the number of registered expressions.
func (s *Store) Len() int {
	return len(s.exprs)
}

// Handles returns all registered handles in allocation order.
func (s *Store) Handles() []Handle {
	a := make([]Handle, 0, len(s.exprs))
	for h := range s.exprs {
		a = append(a, h)
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	return a
}

// Sweep removes every registration whose handle is not in reachable and
// returns the number of entries removed.
func (s *Store) Sweep(reachable map[Handle]struct{}) int {
	var n int
	for h, expr := range s.exprs {
		if _, ok := reachable[h]; ok {
			continue
		}
		delete(s.exprs, h)
		delete(s.handles, expr)
		n++
	}
	return n
}
