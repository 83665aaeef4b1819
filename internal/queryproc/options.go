package queryproc

// Options controls fragment generation (spec.md §4.1).
type Options struct {
	// MinComponentSize is the minimum number of table aliases a fragment's
	// join-graph component must contain. Default 1.
	MinComponentSize int

	// FollowGraph, when true, enumerates every connected subgraph of the
	// join graph (containing the partition-key anchor) rather than only the
	// single connected component containing the anchor.
	FollowGraph bool

	// KeepAllAttributes, when true, retains unary constraints on aliases
	// that are not otherwise joined to the anchor's component (normally
	// such aliases, and their constraints, are pruned along with the table
	// they belong to). It has no effect on fragments that already include
	// every alias mentioning the constraint.
	KeepAllAttributes bool

	// WarnNoPartitionKey controls whether a query with no fragment reaching
	// the partition key is a hard error (false, the default - matches the
	// "raised only if strict" wording in spec.md §7) or a warning producing
	// an empty fragment list (true).
	WarnNoPartitionKey bool

	// GeometryColumn, when non-empty, enables normalization of distance()
	// predicates (normalizeDistancePredicate). Only its presence is
	// consulted; the name is not matched against the predicate's operands.
	// Empty disables spatial distance normalization.
	GeometryColumn string

	// SkipPartitionKeyJoins, when true, leaves predicates that join two
	// aliases solely through the partition key column (`a.pk = b.pk`) out
	// of the join graph - useful when the partition key is denormalized onto
	// every table and joins are expressed through other keys.
	SkipPartitionKeyJoins bool

	// BufferUnit is the snapping unit (in query-native distance units) used
	// by computeBufferDistance. Default 1.0.
	BufferUnit float64
}

func (o Options) withDefaults() Options {
	if o.MinComponentSize <= 0 {
		o.MinComponentSize = 1
	}

	if o.BufferUnit <= 0 {
		o.BufferUnit = 1.0
	}

	return o
}
