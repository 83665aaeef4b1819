// Package queryproc parses a SQL query and derives the canonical,
// deterministically hashed sub-query fragments that determine the set of
// partition-key values the query can touch.
package queryproc

import (
	"sort"

	"github.com/MPoppinga/partitioncache/internal/graph"
)

// Fragment is one (canonical text, hash) pair produced by GenerateFragments.
type Fragment struct {
	Text string
	Hash string
}

// GenerateFragments runs Phases A-F of the query processor against sql,
// deriving every fragment that determines the set of partitionKey values
// the query can touch. The returned slice is deduplicated by hash and
// ordered by ascending table-set size, then canonical text.
func GenerateFragments(sql, partitionKey string, opts Options) ([]Fragment, error) {
	opts = opts.withDefaults()

	tokens, err := NewLexer(sql).Tokenize()
	if err != nil {
		return nil, newParseError(sql, "tokenize failed", err)
	}

	ctes, outer := splitCTEs(tokens)

	if err := checkCTECycles(ctes); err != nil {
		return nil, newParseError(sql, "cyclic WITH clause", err)
	}

	sel, err := parseSelect(outer)
	if err != nil {
		return nil, err
	}

	pq := buildParsedQuery(sel, opts)

	anchors := findAnchorAliases(pq, partitionKey)
	if len(anchors) == 0 {
		if !opts.WarnNoPartitionKey {
			return nil, &NoPartitionKeyError{PartitionKey: partitionKey}
		}

		return nil, nil
	}

	jg := buildJoinGraph(pq, partitionKey, opts)

	subsets := enumerateSubsets(jg, anchors, opts)
	if len(subsets) == 0 {
		if !opts.WarnNoPartitionKey {
			return nil, &NoPartitionKeyError{PartitionKey: partitionKey}
		}

		return nil, nil
	}

	type sized struct {
		size int
		text string
	}

	var all []sized

	for _, s := range subsets {
		text := assembleFragment(s, pq, anchors, partitionKey, opts)
		all = append(all, sized{size: len(s), text: text})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].size != all[j].size {
			return all[i].size < all[j].size
		}

		return all[i].text < all[j].text
	})

	seen := make(map[string]bool)

	out := make([]Fragment, 0, len(all))

	for _, s := range all {
		h := hashFragment(s.text)
		if seen[h] {
			continue
		}

		seen[h] = true

		out = append(out, Fragment{Text: s.text, Hash: h})
	}

	return out, nil
}

// checkCTECycles validates that a WITH clause's CTEs form a DAG by
// reference, surfacing a ParseError-worthy cause on self-reference or
// mutual recursion. It never inlines CTE bodies - they remain opaque base
// relations in the outer join graph.
func checkCTECycles(ctes []cteItem) error {
	if len(ctes) == 0 {
		return nil
	}

	names := make(map[string]bool, len(ctes))
	for _, c := range ctes {
		names[c.Name] = true
	}

	g := graph.NewDirectedGraph[string]()
	for _, c := range ctes {
		g.AddNode(c.Name)
	}

	for _, c := range ctes {
		for i, tok := range c.Tokens {
			if tok.Type != TokenIdentifier && tok.Type != TokenQuotedIdentifier {
				continue
			}

			ref := normalizeIdent(tok.Literal)
			if !names[ref] {
				continue
			}

			if i > 0 && c.Tokens[i-1].Type == TokenDot {
				continue
			}

			if err := g.AddEdge(c.Name, ref); err != nil {
				return err
			}
		}
	}

	_, err := g.TopologicalSort()

	return err
}
