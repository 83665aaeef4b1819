package graph

import "sort"

// JoinGraph is an undirected graph over table aliases, used by the query
// processor to find the connected components (and connected subsets) of a
// query's join predicates. Unlike DirectedGraph it has no notion of
// ordering between nodes - an edge between a and b is symmetric.
type JoinGraph struct {
	nodes []string
	index map[string]int
	adj   map[string]map[string]bool
}

func NewJoinGraph() *JoinGraph {
	return &JoinGraph{
		index: make(map[string]int),
		adj:   make(map[string]map[string]bool),
	}
}

func (g *JoinGraph) AddNode(node string) {
	if _, ok := g.index[node]; ok {
		return
	}

	g.index[node] = len(g.nodes)
	g.nodes = append(g.nodes, node)
	g.adj[node] = make(map[string]bool)
}

func (g *JoinGraph) HasNode(node string) bool {
	_, ok := g.index[node]
	return ok
}

func (g *JoinGraph) AddEdge(a, b string) {
	g.AddNode(a)
	g.AddNode(b)

	if a == b {
		return
	}

	g.adj[a][b] = true
	g.adj[b][a] = true
}

func (g *JoinGraph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	sort.Strings(out)

	return out
}

func (g *JoinGraph) Neighbors(node string) []string {
	var out []string
	for n := range g.adj[node] {
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

// ConnectedComponent returns the set of nodes reachable from start,
// including start itself, as a sorted slice.
func (g *JoinGraph) ConnectedComponent(start string) []string {
	if !g.HasNode(start) {
		return nil
	}

	seen := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for neighbor := range g.adj[node] {
			if !seen[neighbor] {
				seen[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

// ConnectedSubsets enumerates every connected subset of nodes (by edges in
// the graph) with size >= minSize, deterministically ordered by ascending
// size then lexicographically by member list. Isolated nodes (no edges) are
// only emitted when minSize <= 1.
func (g *JoinGraph) ConnectedSubsets(minSize int) [][]string {
	nodes := g.Nodes()

	var results [][]string

	seen := make(map[string]bool)

	var extend func(current []string, currentSet map[string]bool, frontier map[string]bool)

	extend = func(current []string, currentSet map[string]bool, frontier map[string]bool) {
		if len(current) >= minSize {
			key := subsetKey(current)
			if !seen[key] {
				seen[key] = true

				cp := make([]string, len(current))
				copy(cp, current)
				results = append(results, cp)
			}
		}

		candidates := make([]string, 0, len(frontier))
		for n := range frontier {
			candidates = append(candidates, n)
		}

		sort.Strings(candidates)

		for _, next := range candidates {
			if currentSet[next] {
				continue
			}

			nextSet := make(map[string]bool, len(currentSet)+1)
			for k := range currentSet {
				nextSet[k] = true
			}

			nextSet[next] = true

			nextFrontier := make(map[string]bool, len(frontier))
			for k := range frontier {
				if k != next {
					nextFrontier[k] = true
				}
			}

			for neighbor := range g.adj[next] {
				if !nextSet[neighbor] {
					nextFrontier[neighbor] = true
				}
			}

			extend(append(current, next), nextSet, nextFrontier) //nolint:gocritic
		}
	}

	for _, start := range nodes {
		frontier := make(map[string]bool)
		for neighbor := range g.adj[start] {
			frontier[neighbor] = true
		}

		extend([]string{start}, map[string]bool{start: true}, frontier)
	}

	sort.Slice(results, func(i, j int) bool {
		if len(results[i]) != len(results[j]) {
			return len(results[i]) < len(results[j])
		}

		for k := range results[i] {
			if results[i][k] != results[j][k] {
				return results[i][k] < results[j][k]
			}
		}

		return false
	})

	return results
}

func subsetKey(members []string) string {
	cp := make([]string, len(members))
	copy(cp, members)
	sort.Strings(cp)

	key := ""
	for _, m := range cp {
		key += m + "\x00"
	}

	return key
}
