package applycache

import (
	"errors"

	"github.com/MPoppinga/partitioncache/internal/queryproc"
)

var (
	errNotLazyCapable = errors.New("backend does not support lazy intersection")
	errNoInsertPoint  = errors.New("could not find a place to inject the membership predicate")
)

// clauseBoundaryKeywords are the top-level keywords that end a WHERE clause
// (or, absent a WHERE clause, the FROM list) in the subset of SQL this
// module parses.
var clauseBoundaryKeywords = map[string]bool{ //nolint:gochecknoglobals
	"GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"OFFSET": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
}

// injectPredicate splices `AND (predicate)` onto an existing top-level WHERE
// clause, or adds a new `WHERE (predicate)` clause if the query has none.
// Splicing is done on the original byte offsets from the lexer so the rest
// of the query's text, spacing and casing is left untouched.
func injectPredicate(sql string, predicate string) (string, error) {
	tokens, err := queryproc.NewLexer(sql).Tokenize()
	if err != nil {
		return "", err
	}

	whereIdx := topLevelKeywordIndex(tokens, "WHERE")
	if whereIdx >= 0 {
		pos, err := boundaryOffset(tokens, whereIdx+1, sql)
		if err != nil {
			return "", err
		}

		return sql[:pos] + " and (" + predicate + ")" + sql[pos:], nil
	}

	pos, err := boundaryOffset(tokens, 0, sql)
	if err != nil {
		return "", err
	}

	return sql[:pos] + " where (" + predicate + ")" + sql[pos:], nil
}

func topLevelKeywordIndex(tokens []queryproc.Token, keyword string) int {
	depth := 0

	for i, tok := range tokens {
		switch tok.Type {
		case queryproc.TokenLParen:
			depth++
		case queryproc.TokenRParen:
			depth--
		}

		if depth == 0 && tok.Type == queryproc.TokenKeyword && tok.Upper() == keyword {
			return i
		}
	}

	return -1
}

// boundaryOffset returns the byte offset of the first top-level clause
// boundary (GROUP BY, ORDER BY, ..., a semicolon, or end of string) at or
// after the given token index.
func boundaryOffset(tokens []queryproc.Token, from int, sql string) (int, error) {
	depth := 0

	for i := from; i < len(tokens); i++ {
		tok := tokens[i]

		switch tok.Type {
		case queryproc.TokenLParen:
			depth++
		case queryproc.TokenRParen:
			depth--
		case queryproc.TokenSemicolon:
			if depth == 0 {
				return tok.Start, nil
			}
		case queryproc.TokenKeyword:
			if depth == 0 && clauseBoundaryKeywords[tok.Upper()] {
				return tok.Start, nil
			}
		case queryproc.TokenEOF:
			if depth == 0 {
				return tok.Start, nil
			}
		}
	}

	return 0, errNoInsertPoint
}
