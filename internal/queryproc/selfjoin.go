package queryproc

// flattenSelfJoins merges alias b into alias a whenever both reference the
// same table and are connected by exactly one predicate, which is itself a
// plain equality on identical column names (`a.col = b.col`). It returns
// the reduced table/predicate lists plus the alias substitutions applied,
// so callers can remap any alias they were tracking independently (e.g. a
// partition-key anchor).
func flattenSelfJoins(tables []TableRef, predicates []Predicate) ([]TableRef, []Predicate, map[string]string) {
	subst := make(map[string]string)

	for {
		pairIdx, a, b, ok := findSelfJoinPair(tables, predicates)
		if !ok {
			break
		}

		tables = removeTableAlias(tables, b)
		predicates = removePredicateAt(predicates, pairIdx)
		predicates = substituteAlias(predicates, b, a)
		subst[b] = a

		for old, mapped := range subst {
			if mapped == b {
				subst[old] = a
			}
		}
	}

	return tables, predicates, subst
}

func findSelfJoinPair(tables []TableRef, predicates []Predicate) (idx int, a, b string, ok bool) { //nolint:nonamedreturns
	byTable := make(map[string][]string)
	for _, t := range tables {
		byTable[t.Table] = append(byTable[t.Table], t.Alias)
	}

	edgeCount := make(map[[2]string]int)
	edgeIdx := make(map[[2]string]int)

	for i, p := range predicates {
		if len(p.Aliases) != 2 {
			continue
		}

		key := pairKey(p.Aliases[0], p.Aliases[1])
		edgeCount[key]++
		edgeIdx[key] = i
	}

	for _, aliases := range byTable {
		if len(aliases) < 2 {
			continue
		}

		for i := 0; i < len(aliases); i++ {
			for j := i + 1; j < len(aliases); j++ {
				key := pairKey(aliases[i], aliases[j])
				if edgeCount[key] != 1 {
					continue
				}

				pi := edgeIdx[key]
				if col, isSelfJoin := selfJoinColumn(predicates[pi].Tokens, aliases[i], aliases[j]); isSelfJoin {
					_ = col
					return pi, aliases[i], aliases[j], true
				}
			}
		}
	}

	return 0, "", "", false
}

func pairKey(x, y string) [2]string {
	if x < y {
		return [2]string{x, y}
	}

	return [2]string{y, x}
}

// selfJoinColumn checks that tokens are exactly `alias1.col op alias2.col`
// (in either order) with an equality operator and the same column name on
// both sides.
func selfJoinColumn(tokens []Token, alias1, alias2 string) (string, bool) {
	if len(tokens) != 7 {
		return "", false
	}

	if tokens[1].Type != TokenDot || tokens[3].Type != TokenOperator || tokens[5].Type != TokenDot {
		return "", false
	}

	if !opEquivalent(tokens[3].Literal, "=") {
		return "", false
	}

	left := normalizeIdent(tokens[0].Literal)
	leftCol := normalizeIdent(tokens[2].Literal)
	right := normalizeIdent(tokens[4].Literal)
	rightCol := normalizeIdent(tokens[6].Literal)

	matchesOrder := (left == alias1 && right == alias2) || (left == alias2 && right == alias1)
	if !matchesOrder {
		return "", false
	}

	if leftCol != rightCol {
		return "", false
	}

	return leftCol, true
}

func removeTableAlias(tables []TableRef, alias string) []TableRef {
	out := make([]TableRef, 0, len(tables))

	for _, t := range tables {
		if t.Alias != alias {
			out = append(out, t)
		}
	}

	return out
}

func removePredicateAt(predicates []Predicate, idx int) []Predicate {
	out := make([]Predicate, 0, len(predicates)-1)

	for i, p := range predicates {
		if i != idx {
			out = append(out, p)
		}
	}

	return out
}

// substituteAlias rewrites every reference to oldAlias in the remaining
// predicates' tokens and alias sets to newAlias.
func substituteAlias(predicates []Predicate, oldAlias, newAlias string) []Predicate {
	out := make([]Predicate, len(predicates))

	for i, p := range predicates {
		tokens := make([]Token, len(p.Tokens))
		copy(tokens, p.Tokens)

		for j, tok := range tokens {
			if (tok.Type == TokenIdentifier || tok.Type == TokenQuotedIdentifier) &&
				normalizeIdent(tok.Literal) == oldAlias &&
				j+1 < len(tokens) && tokens[j+1].Type == TokenDot {
				tokens[j] = Token{Type: tok.Type, Literal: newAlias}
			}
		}

		aliases := make([]string, 0, len(p.Aliases))
		seen := make(map[string]bool)

		for _, a := range p.Aliases {
			if a == oldAlias {
				a = newAlias
			}

			if !seen[a] {
				seen[a] = true

				aliases = append(aliases, a)
			}
		}

		out[i] = Predicate{Tokens: tokens, Aliases: aliases}
	}

	return out
}
