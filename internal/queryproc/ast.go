package queryproc

// TableRef is one table (or opaque subquery/CTE reference) participating in
// the query, after join flattening folds explicit JOINs into comma form.
type TableRef struct {
	Table string
	Alias string
}

// Predicate is a single top-level WHERE/ON condition after AND-splitting.
// Aliases lists every table alias the predicate's tokens reference; a
// predicate with exactly one alias is a unary constraint, one with exactly
// two is a join edge, and one with more than two (rare - e.g. a CASE
// expression spanning three tables) adds an edge between every pair of its
// aliases in Phase D's join graph.
type Predicate struct {
	Tokens  []Token
	Aliases []string
}

// Text renders the predicate's canonical form.
func (p Predicate) Text() string {
	return renderExpr(p.Tokens)
}

// ParsedQuery is the Phase B/C output: a flattened table list and a set of
// top-level predicates, ready for Phase D's subgraph enumeration.
type ParsedQuery struct {
	Tables     []TableRef
	Predicates []Predicate
	// SelectItems carries the raw select-list token spans. They are never
	// rendered into a fragment (the projection is replaced wholesale), but
	// a partition-key reference appearing only in the projection still
	// counts when locating the anchor alias.
	SelectItems [][]Token
}

func (q ParsedQuery) knownAliases() map[string]bool {
	out := make(map[string]bool, len(q.Tables))
	for _, t := range q.Tables {
		out[t.Alias] = true
	}

	return out
}
