package queryproc

import "strings"

// fromItem is one table reference appearing in a FROM clause (comma form)
// or as the left/right side of an explicit JOIN, after alias assignment.
type fromItem struct {
	Table string
	Alias string
}

// joinItem is an explicit JOIN the parser encountered; normalizeJoins folds
// these (and their ON predicates) into plain fromItems plus WHERE tokens.
type joinItem struct {
	Table string
	Alias string
	On    []Token
}

type cteItem struct {
	Name   string
	Tokens []Token
}

// rawSelect is the direct result of parsing a SELECT statement's token
// stream: clause boundaries are recognized, but clauses that Phase A drops
// (select list, GROUP BY, HAVING, ORDER BY, LIMIT, OFFSET) are only skipped
// over, never interpreted.
type rawSelect struct {
	CTEs        []cteItem
	SelectItems [][]Token
	From        []fromItem
	Joins       []joinItem
	Where       []Token
	hadSQL      bool
}

type tokenCursor struct {
	tokens []Token
	pos    int
}

func newCursor(tokens []Token) *tokenCursor {
	return &tokenCursor{tokens: tokens}
}

func (c *tokenCursor) current() Token {
	if c.pos >= len(c.tokens) {
		return Token{Type: TokenEOF}
	}

	return c.tokens[c.pos]
}

func (c *tokenCursor) advance() {
	if c.pos < len(c.tokens) {
		c.pos++
	}
}

func (c *tokenCursor) matchKeyword(kw string) bool {
	tok := c.current()
	return tok.Type == TokenKeyword && tok.Upper() == kw
}

func (c *tokenCursor) atEOF() bool {
	return c.current().Type == TokenEOF
}

// parseSelect parses a single SELECT statement (no leading WITH - CTEs are
// split out by splitCTEs before this is called) into a rawSelect.
func parseSelect(tokens []Token) (*rawSelect, error) { //nolint:cyclop,gocognit
	c := newCursor(tokens)

	if !c.matchKeyword("SELECT") {
		return nil, newParseError(renderTokens(tokens), "expected SELECT", nil)
	}

	c.advance()
	out := &rawSelect{hadSQL: true}

	if c.matchKeyword("DISTINCT") {
		c.advance()
	}

	out.SelectItems = parseSelectItems(c)

	if !c.matchKeyword("FROM") {
		return nil, newParseError(renderTokens(tokens), "expected FROM", nil)
	}

	c.advance()

	from, joins, err := parseFromClause(c)
	if err != nil {
		return nil, err
	}

	out.From = from
	out.Joins = joins

	if c.matchKeyword("WHERE") {
		c.advance()

		out.Where = collectUntilClauseKeyword(c)
	}

	// Remaining clauses are dropped entirely per Phase A; just consume them.
	for !c.atEOF() {
		if c.current().Type == TokenSemicolon {
			break
		}

		c.advance()
	}

	return out, nil
}

var clauseKeywords = map[string]bool{ //nolint:gochecknoglobals
	"FROM": true, "WHERE": true, "GROUP": true, "HAVING": true,
	"ORDER": true, "LIMIT": true, "OFFSET": true, "UNION": true,
	"INTERSECT": true, "EXCEPT": true,
}

// parseSelectItems splits the select list into per-item token spans (on
// top-level commas), stopping at FROM. The items are never rendered into
// the fragment's own SELECT clause (Phase A replaces the projection
// entirely) but their column references still count when searching for the
// partition-key anchor alias (spec.md §4.1 Phase D).
func parseSelectItems(c *tokenCursor) [][]Token {
	var items [][]Token

	var current []Token

	depth := 0

	for !c.atEOF() {
		tok := c.current()

		if tok.Type == TokenLParen {
			depth++
		} else if tok.Type == TokenRParen {
			if depth == 0 {
				break
			}

			depth--
		}

		if depth == 0 && tok.Type == TokenKeyword && clauseKeywords[tok.Upper()] {
			break
		}

		if depth == 0 && tok.Type == TokenComma {
			items = append(items, current)
			current = nil
			c.advance()

			continue
		}

		current = append(current, tok)
		c.advance()
	}

	if len(current) > 0 {
		items = append(items, current)
	}

	return items
}

// collectUntilClauseKeyword returns the tokens from the cursor's current
// position up to (not including) the next top-level clause keyword or
// statement end, advancing the cursor to that point.
func collectUntilClauseKeyword(c *tokenCursor) []Token {
	var out []Token

	depth := 0

	for !c.atEOF() {
		tok := c.current()

		if tok.Type == TokenLParen {
			depth++
		} else if tok.Type == TokenRParen {
			if depth == 0 {
				break
			}

			depth--
		}

		if depth == 0 && tok.Type == TokenSemicolon {
			break
		}

		if depth == 0 && tok.Type == TokenKeyword && clauseKeywords[tok.Upper()] {
			break
		}

		out = append(out, tok)
		c.advance()
	}

	return out
}

func parseFromClause(c *tokenCursor) ([]fromItem, []joinItem, error) { //nolint:cyclop,gocognit
	var (
		items []fromItem
		joins []joinItem
	)

	expectOn := false

	for !c.atEOF() {
		tok := c.current()

		if tok.Type == TokenKeyword && clauseKeywords[tok.Upper()] && tok.Upper() != "FROM" {
			break
		}

		if tok.Type == TokenSemicolon {
			break
		}

		switch {
		case tok.Type == TokenKeyword && isJoinModifier(tok.Upper()):
			c.advance()
			continue
		case tok.Type == TokenKeyword && tok.Upper() == "JOIN":
			c.advance()
			expectOn = true

			table, alias, err := parseTableRef(c)
			if err != nil {
				return nil, nil, err
			}

			join := joinItem{Table: table, Alias: alias}

			if c.matchKeyword("ON") {
				c.advance()

				join.On = collectOnPredicate(c)
				expectOn = false
			}

			joins = append(joins, join)

			continue
		case tok.Type == TokenKeyword && tok.Upper() == "ON" && expectOn:
			c.advance()

			on := collectOnPredicate(c)
			if len(joins) > 0 {
				joins[len(joins)-1].On = on
			}

			expectOn = false

			continue
		case tok.Type == TokenComma:
			c.advance()
			continue
		case tok.Type == TokenIdentifier || tok.Type == TokenQuotedIdentifier:
			table, alias, err := parseTableRef(c)
			if err != nil {
				return nil, nil, err
			}

			items = append(items, fromItem{Table: table, Alias: alias})

			continue
		case tok.Type == TokenLParen:
			// Opaque subquery source: skip the balanced parens and assign it
			// a synthetic alias so later joins can still reference it; its
			// own predicates are not decomposed further.
			depth := 0
			for !c.atEOF() {
				t := c.current()
				if t.Type == TokenLParen {
					depth++
				} else if t.Type == TokenRParen {
					depth--
					c.advance()

					if depth == 0 {
						break
					}

					continue
				}

				c.advance()
			}

			alias := ""
			if c.matchKeyword("AS") {
				c.advance()
			}

			if c.current().Type == TokenIdentifier || c.current().Type == TokenQuotedIdentifier {
				alias = normalizeIdent(c.current().Literal)
				c.advance()
			}

			items = append(items, fromItem{Table: "(subquery)", Alias: alias})

			continue
		default:
			c.advance()
		}
	}

	return items, joins, nil
}

func isJoinModifier(kw string) bool {
	switch kw {
	case "LEFT", "RIGHT", "INNER", "OUTER", "FULL", "CROSS", "NATURAL":
		return true
	default:
		return false
	}
}

func parseTableRef(c *tokenCursor) (table, alias string, err error) { //nolint:nonamedreturns
	if c.current().Type != TokenIdentifier && c.current().Type != TokenQuotedIdentifier {
		return "", "", newParseError("", "expected table name", nil)
	}

	table = normalizeIdent(c.current().Literal)
	c.advance()

	if c.current().Type == TokenDot {
		c.advance()

		if c.current().Type == TokenIdentifier || c.current().Type == TokenQuotedIdentifier {
			table += "." + normalizeIdent(c.current().Literal)
			c.advance()
		}
	}

	alias = table
	if idx := strings.LastIndex(alias, "."); idx >= 0 {
		alias = alias[idx+1:]
	}

	if c.matchKeyword("AS") {
		c.advance()
	}

	if (c.current().Type == TokenIdentifier || c.current().Type == TokenQuotedIdentifier) && !isReservedNext(c) {
		alias = normalizeIdent(c.current().Literal)
		c.advance()
	}

	return table, alias, nil
}

func isReservedNext(c *tokenCursor) bool {
	tok := c.current()
	if tok.Type != TokenKeyword {
		return false
	}

	return clauseKeywords[tok.Upper()] || isJoinModifier(tok.Upper()) || tok.Upper() == "JOIN" || tok.Upper() == "ON"
}

func collectOnPredicate(c *tokenCursor) []Token {
	var out []Token

	depth := 0

	for !c.atEOF() {
		tok := c.current()

		if tok.Type == TokenLParen {
			depth++
		} else if tok.Type == TokenRParen {
			if depth == 0 {
				break
			}

			depth--
		}

		if depth == 0 {
			if tok.Type == TokenKeyword &&
				(clauseKeywords[tok.Upper()] || isJoinModifier(tok.Upper()) || tok.Upper() == "JOIN") {
				break
			}

			if tok.Type == TokenSemicolon {
				break
			}
		}

		out = append(out, tok)
		c.advance()
	}

	return out
}

func normalizeIdent(lit string) string {
	lit = strings.TrimPrefix(lit, `"`)
	lit = strings.TrimSuffix(lit, `"`)

	return strings.ToLower(lit)
}

// splitCTEs strips a leading WITH clause off the token stream, returning the
// CTE definitions and the remaining tokens for the outer SELECT.
func splitCTEs(tokens []Token) ([]cteItem, []Token) {
	c := newCursor(tokens)
	if !c.matchKeyword("WITH") {
		return nil, tokens
	}

	c.advance()

	var ctes []cteItem

	for !c.atEOF() {
		if c.current().Type != TokenIdentifier && c.current().Type != TokenQuotedIdentifier {
			break
		}

		name := normalizeIdent(c.current().Literal)
		c.advance()

		if c.matchKeyword("AS") {
			c.advance()
		}

		if c.current().Type != TokenLParen {
			break
		}

		c.advance()

		depth := 1
		start := c.pos

		for depth > 0 && !c.atEOF() {
			switch c.current().Type {
			case TokenLParen:
				depth++
			case TokenRParen:
				depth--
			default:
			}

			if depth > 0 {
				c.advance()
			}
		}

		inner := append([]Token(nil), c.tokens[start:c.pos]...)
		ctes = append(ctes, cteItem{Name: name, Tokens: inner})

		c.advance() // consume closing paren

		if c.current().Type == TokenComma {
			c.advance()
			continue
		}

		break
	}

	return ctes, c.tokens[c.pos:]
}
