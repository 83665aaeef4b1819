package queryproc

import "sort"

// normalizeJoins flattens explicit JOINs into comma-form table references
// plus extra WHERE-equivalent condition groups, matching Phase B of
// spec.md §4.1 ("join ... on X = Y" becomes "," with "X = Y" moved to
// WHERE, join order and form no longer observable downstream).
func normalizeJoins(sel *rawSelect) ([]TableRef, [][]Token) {
	tables := make([]TableRef, 0, len(sel.From)+len(sel.Joins))
	for _, f := range sel.From {
		tables = append(tables, TableRef{Table: f.Table, Alias: f.Alias})
	}

	var extra [][]Token

	for _, j := range sel.Joins {
		tables = append(tables, TableRef{Table: j.Table, Alias: j.Alias})

		if len(j.On) > 0 {
			extra = append(extra, splitTopLevelAnd(j.On)...)
		}
	}

	return tables, extra
}

// splitTopLevelAnd splits a token slice on top-level AND keywords, leaving
// OR/NOT/everything else inside each group intact. Depth is tracked both for
// parentheses and for CASE...END (a bare AND inside a CASE expression is not
// a condition boundary), the same two-depth-counter technique the teacher's
// view_normalizer.go uses for splitting WHERE clauses.
func splitTopLevelAnd(tokens []Token) [][]Token {
	if len(tokens) == 0 {
		return nil
	}

	var (
		groups   [][]Token
		current  []Token
		parens   int
		caseNest int
	)

	for _, tok := range tokens {
		switch {
		case tok.Type == TokenLParen:
			parens++
		case tok.Type == TokenRParen:
			parens--
		case tok.Type == TokenKeyword && tok.Upper() == "CASE":
			caseNest++
		case tok.Type == TokenKeyword && tok.Upper() == "END":
			caseNest--
		}

		if parens == 0 && caseNest == 0 && tok.Type == TokenKeyword && tok.Upper() == "AND" {
			groups = append(groups, current)
			current = nil

			continue
		}

		current = append(current, tok)
	}

	groups = append(groups, current)

	return groups
}

// extractAliases returns the sorted, deduplicated set of table aliases a
// predicate's tokens reference. A bare (unqualified) identifier counts
// toward soleAlias when the query has exactly one table and the identifier
// is not itself the second half of an alias.column reference and is not a
// function call.
func extractAliases(tokens []Token, known map[string]bool, soleAlias string) []string {
	seen := make(map[string]bool)

	for i, tok := range tokens {
		if tok.Type != TokenIdentifier && tok.Type != TokenQuotedIdentifier {
			continue
		}

		name := normalizeIdent(tok.Literal)

		precededByDot := i > 0 && tokens[i-1].Type == TokenDot
		followedByDot := i+1 < len(tokens) && tokens[i+1].Type == TokenDot
		followedByParen := i+1 < len(tokens) && tokens[i+1].Type == TokenLParen

		switch {
		case followedByDot && known[name]:
			seen[name] = true
		case precededByDot:
			// second half of alias.column, not itself an alias reference
		case followedByParen:
			// function call name, not a column reference
		case soleAlias != "":
			seen[soleAlias] = true
		}
	}

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}

	sort.Strings(out)

	return out
}

// buildParsedQuery assembles the flattened table list, top-level predicate
// set, and select-list alias resolution a rawSelect needs for Phase C/D.
func buildParsedQuery(sel *rawSelect, opts Options) *ParsedQuery {
	tables, joinExtra := normalizeJoins(sel)

	aliasSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		aliasSet[t.Alias] = true
	}

	soleAlias := ""
	if len(tables) == 1 {
		soleAlias = tables[0].Alias
	}

	groups := splitTopLevelAnd(sel.Where)
	groups = append(groups, joinExtra...)

	predicates := make([]Predicate, 0, len(groups))

	for _, g := range groups {
		if len(g) == 0 {
			continue
		}

		g = normalizeDistancePredicate(g, opts)

		if isTriviallyTrue(g) {
			continue
		}

		predicates = append(predicates, Predicate{
			Tokens:  g,
			Aliases: extractAliases(g, aliasSet, soleAlias),
		})
	}

	return &ParsedQuery{
		Tables:      tables,
		Predicates:  predicates,
		SelectItems: sel.SelectItems,
	}
}
