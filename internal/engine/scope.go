package engine

import (
	"github.com/roach88/pivot/internal/expr"
)

// scope is the chain of datums a reference resolves against: the datum
// being computed, the datum its dataset was applied in, and so on up to
// the root holding the cube's $main.
type scope struct {
	datum  expr.Datum
	parent *scope
}

func rootScope(main relation) *scope {
	return &scope{datum: expr.Datum{expr.MainName: main}}
}

func (s *scope) child(d expr.Datum) *scope {
	return &scope{datum: d, parent: s}
}

// lookup resolves name nest datums up. A name missing there is looked for
// further out, so ply() datums see the root $main.
func (s *scope) lookup(name string, nest int) (any, bool) {
	cur := s
	for i := 0; i < nest && cur != nil; i++ {
		cur = cur.parent
	}
	for ; cur != nil; cur = cur.parent {
		if v, ok := cur.datum[name]; ok {
			return v, true
		}
	}
	return nil, false
}
