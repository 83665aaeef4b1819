package queryproc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MPoppinga/partitioncache/internal/graph"
)

// buildJoinGraph constructs the alias-level join graph of Phase C: every
// predicate mentioning exactly two aliases is an edge, every predicate
// mentioning exactly one is a unary constraint (not an edge, but still
// attached to that alias so it travels with it into any fragment). Isolated
// tables (no join predicate at all) still appear as graph nodes so a
// min_component_size of 1 can select them alone.
// Predicates joining two aliases solely through the partition key column
// itself (`a.region_id = b.region_id`) are excluded from the graph when
// opts.SkipPartitionKeyJoins is set: with a partition key denormalized onto
// every table, such predicates would connect every alias to every other
// one and collapse all fragments into a single component.
func buildJoinGraph(q *ParsedQuery, partitionKey string, opts Options) *graph.JoinGraph {
	jg := graph.NewJoinGraph()

	for _, t := range q.Tables {
		jg.AddNode(t.Alias)
	}

	for _, p := range q.Predicates {
		if len(p.Aliases) < 2 {
			continue
		}

		if opts.SkipPartitionKeyJoins && len(p.Aliases) == 2 {
			if col, ok := selfJoinColumn(p.Tokens, p.Aliases[0], p.Aliases[1]); ok && strings.EqualFold(col, partitionKey) {
				continue
			}
		}

		for i := 0; i < len(p.Aliases); i++ {
			for j := i + 1; j < len(p.Aliases); j++ {
				jg.AddEdge(p.Aliases[i], p.Aliases[j])
			}
		}
	}

	return jg
}

func connectedComponents(jg *graph.JoinGraph) [][]string {
	seen := make(map[string]bool)

	var comps [][]string

	for _, n := range jg.Nodes() {
		if seen[n] {
			continue
		}

		c := jg.ConnectedComponent(n)
		for _, m := range c {
			seen[m] = true
		}

		comps = append(comps, c)
	}

	return comps
}

func containsAny(members []string, anchors map[string]bool) bool {
	for _, m := range members {
		if anchors[m] {
			return true
		}
	}

	return false
}

// findAnchorAliases returns the table aliases from which the partition key
// column is directly reachable: either `alias.partitionKey` appears in a
// predicate or select-list item, or (single-table query) the bare column
// name appears and is resolved to the sole alias. A single-table query with
// no partition-key reference at all still anchors at its sole table: the
// key is a column of the base table, and Phase A replaces the projection
// with it regardless of what the query selected.
func findAnchorAliases(q *ParsedQuery, partitionKey string) map[string]bool {
	anchors := make(map[string]bool)

	known := q.knownAliases()

	soleAlias := ""
	if len(q.Tables) == 1 {
		soleAlias = q.Tables[0].Alias
	}

	scan := func(tokens []Token) {
		for alias := range aliasesReferencingColumn(tokens, known, soleAlias, partitionKey) {
			anchors[alias] = true
		}
	}

	for _, p := range q.Predicates {
		scan(p.Tokens)
	}

	for _, item := range q.SelectItems {
		scan(item)
	}

	if len(anchors) == 0 && soleAlias != "" {
		anchors[soleAlias] = true
	}

	return anchors
}

// aliasesReferencingColumn scans a token span for references to column
// (case-insensitively), qualified (`alias.column`) or, in a single-table
// query, bare.
func aliasesReferencingColumn(tokens []Token, known map[string]bool, soleAlias, column string) map[string]bool {
	out := make(map[string]bool)

	for i, tok := range tokens {
		if tok.Type != TokenIdentifier && tok.Type != TokenQuotedIdentifier {
			continue
		}

		name := normalizeIdent(tok.Literal)
		if !strings.EqualFold(name, column) {
			continue
		}

		precededByDot := i > 0 && tokens[i-1].Type == TokenDot

		switch {
		case precededByDot && i >= 2:
			alias := normalizeIdent(tokens[i-2].Literal)
			if known[alias] {
				out[alias] = true
			}
		case !precededByDot && soleAlias != "":
			out[soleAlias] = true
		default:
		}
	}

	return out
}

// enumerateSubsets implements Phase D: either every connected subset of the
// join graph (follow_graph) or the single connected component containing a
// partition-key anchor, in both cases keeping only subsets that still reach
// an anchor alias (a fragment with none could not project the partition
// key at all).
func enumerateSubsets(jg *graph.JoinGraph, anchors map[string]bool, opts Options) [][]string {
	var candidates [][]string

	if opts.FollowGraph {
		candidates = jg.ConnectedSubsets(opts.MinComponentSize)
	} else {
		for _, c := range connectedComponents(jg) {
			if len(c) >= opts.MinComponentSize {
				candidates = append(candidates, c)
			}
		}
	}

	result := make([][]string, 0, len(candidates))

	for _, c := range candidates {
		if containsAny(c, anchors) {
			result = append(result, c)
		}
	}

	return result
}

func allIn(aliases []string, set map[string]bool) bool {
	for _, a := range aliases {
		if !set[a] {
			return false
		}
	}

	return true
}

// assembleFragment builds the canonical fragment text for subset S (Phase
// E): self-joins within S are flattened, every surviving alias is renamed
// to a caller-independent canonical name, predicates restricted to S are
// canonicalized and sorted, and the projection is the partition key as seen
// through the lexicographically first remaining anchor alias. The renaming
// is what makes two queries that differ only in alias spelling hash
// identically.
func assembleFragment(s []string, q *ParsedQuery, anchors map[string]bool, partitionKey string, opts Options) string {
	set := make(map[string]bool, len(s))
	for _, a := range s {
		set[a] = true
	}

	subTables := make([]TableRef, 0, len(s))

	for _, t := range q.Tables {
		if set[t.Alias] {
			subTables = append(subTables, t)
		}
	}

	subPredicates := make([]Predicate, 0)

	for _, p := range q.Predicates {
		if len(p.Aliases) == 0 {
			continue
		}

		if allIn(p.Aliases, set) {
			subPredicates = append(subPredicates, p)
		}
	}

	if opts.KeepAllAttributes {
		added := make(map[string]bool)

		for _, p := range q.Predicates {
			if len(p.Aliases) != 1 || set[p.Aliases[0]] {
				continue
			}

			extraAlias := p.Aliases[0]
			if t := findTableRef(q.Tables, extraAlias); t != nil {
				if !added[extraAlias] {
					subTables = append(subTables, *t)
					added[extraAlias] = true
				}

				subPredicates = append(subPredicates, p)
			}
		}
	}

	subTables, subPredicates, subst := flattenSelfJoins(subTables, subPredicates)

	canon := canonicalAliasMap(subTables, subPredicates)

	anchorAlias := ""

	for a := range anchors {
		resolved := a
		if mapped, ok := subst[a]; ok {
			resolved = mapped
		}

		c, ok := canon[resolved]
		if !ok {
			continue
		}

		if anchorAlias == "" || c < anchorAlias {
			anchorAlias = c
		}
	}

	if anchorAlias == "" {
		for _, t := range subTables {
			if c := canon[t.Alias]; anchorAlias == "" || c < anchorAlias {
				anchorAlias = c
			}
		}
	}

	type fromEntry struct {
		table string
		alias string
	}

	fromEntries := make([]fromEntry, 0, len(subTables))
	for _, t := range subTables {
		fromEntries = append(fromEntries, fromEntry{table: t.Table, alias: canon[t.Alias]})
	}

	sort.Slice(fromEntries, func(i, j int) bool {
		if fromEntries[i].table != fromEntries[j].table {
			return fromEntries[i].table < fromEntries[j].table
		}

		return fromEntries[i].alias < fromEntries[j].alias
	})

	fromParts := make([]string, 0, len(fromEntries))
	for _, e := range fromEntries {
		if e.alias != e.table {
			fromParts = append(fromParts, e.table+" "+e.alias)
		} else {
			fromParts = append(fromParts, e.table)
		}
	}

	predTexts := make([]string, 0, len(subPredicates))
	for _, p := range subPredicates {
		renamed := renameAliases(p.Tokens, canon)
		predTexts = append(predTexts, renderExpr(canonicalizeOperands(renamed)))
	}

	sort.Strings(predTexts)

	var b strings.Builder

	b.WriteString("select distinct ")
	b.WriteString(fmt.Sprintf("%s.%s", anchorAlias, strings.ToLower(partitionKey)))
	b.WriteString(" from ")
	b.WriteString(strings.Join(fromParts, ", "))

	if len(predTexts) > 0 {
		b.WriteString(" where ")
		b.WriteString(strings.Join(predTexts, " and "))
	}

	return b.String()
}

func findTableRef(tables []TableRef, alias string) *TableRef {
	for i := range tables {
		if tables[i].Alias == alias {
			return &tables[i]
		}
	}

	return nil
}

func shortTableName(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[i+1:]
	}

	return table
}

// canonicalAliasMap assigns every alias a caller-independent name: the
// table's own (unqualified) name when it appears once in the fragment, or
// table_1..table_n when the same table appears several times, ordered by
// each alias's predicate signature so the numbering does not depend on the
// caller's alias spelling either.
func canonicalAliasMap(tables []TableRef, predicates []Predicate) map[string]string {
	tableOf := make(map[string]string, len(tables))
	byTable := make(map[string][]string)

	order := make([]string, 0, len(tables))

	for _, t := range tables {
		tableOf[t.Alias] = t.Table

		if _, ok := byTable[t.Table]; !ok {
			order = append(order, t.Table)
		}

		byTable[t.Table] = append(byTable[t.Table], t.Alias)
	}

	sort.Strings(order)

	out := make(map[string]string, len(tables))
	used := make(map[string]bool, len(tables))

	for _, table := range order {
		aliases := byTable[table]

		base := shortTableName(table)
		if used[base] {
			// Two schema-qualified tables share a short name; fall back to
			// the full name so the canonical aliases stay distinct.
			base = strings.ReplaceAll(table, ".", "_")
		}

		used[base] = true

		if len(aliases) == 1 {
			out[aliases[0]] = base
			continue
		}

		sort.Slice(aliases, func(i, j int) bool {
			si := aliasSignature(aliases[i], predicates, tableOf)
			sj := aliasSignature(aliases[j], predicates, tableOf)

			if si != sj {
				return si < sj
			}

			return aliases[i] < aliases[j]
		})

		for i, a := range aliases {
			out[a] = fmt.Sprintf("%s_%d", base, i+1)
		}
	}

	return out
}

// aliasSignature renders the predicates mentioning alias with the alias
// itself replaced by a placeholder and every other alias replaced by its
// table name, giving a spelling-independent ordering key for same-table
// aliases.
func aliasSignature(alias string, predicates []Predicate, tableOf map[string]string) string {
	var parts []string

	for _, p := range predicates {
		mentioned := false

		for _, a := range p.Aliases {
			if a == alias {
				mentioned = true
				break
			}
		}

		if !mentioned {
			continue
		}

		tokens := make([]Token, len(p.Tokens))
		copy(tokens, p.Tokens)

		for i, tok := range tokens {
			if !isAliasReference(tokens, i) {
				continue
			}

			switch name := normalizeIdent(tok.Literal); {
			case name == alias:
				tokens[i] = Token{Type: TokenIdentifier, Literal: "?"}
			default:
				if t, ok := tableOf[name]; ok {
					tokens[i] = Token{Type: TokenIdentifier, Literal: t}
				}
			}
		}

		parts = append(parts, renderExpr(tokens))
	}

	sort.Strings(parts)

	return strings.Join(parts, "|")
}

// renameAliases rewrites every `alias.` qualifier in tokens to its
// canonical name, leaving bare column references untouched.
func renameAliases(tokens []Token, canon map[string]string) []Token {
	out := make([]Token, len(tokens))
	copy(out, tokens)

	for i, tok := range out {
		if !isAliasReference(out, i) {
			continue
		}

		if c, ok := canon[normalizeIdent(tok.Literal)]; ok {
			out[i] = Token{Type: TokenIdentifier, Literal: c}
		}
	}

	return out
}

// isAliasReference reports whether tokens[i] is the qualifier position of
// an `alias.column` reference.
func isAliasReference(tokens []Token, i int) bool {
	tok := tokens[i]
	if tok.Type != TokenIdentifier && tok.Type != TokenQuotedIdentifier {
		return false
	}

	if i+1 >= len(tokens) || tokens[i+1].Type != TokenDot {
		return false
	}

	return i == 0 || tokens[i-1].Type != TokenDot
}
