package queryproc

import "strings"

// renderTokens renders a token slice back to text for diagnostics
// (ParseError messages); it does not attempt canonical formatting.
func renderTokens(tokens []Token) string {
	var b strings.Builder

	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(tok.Literal)
	}

	return b.String()
}

// renderExpr renders a token slice into the fixed canonical form used
// throughout fragment text: lowercase keywords and identifiers, unquoted
// (but still lowercased) quoted identifiers, single-space separators, and
// no comments (the lexer never emits comment tokens into expression spans).
// This is deliberately plain (single space between tokens, except around
// the dot of a qualified column reference) rather than pretty-printed - it
// only needs to be deterministic, not idiomatic-looking SQL.
func renderExpr(tokens []Token) string {
	var b strings.Builder

	for i, tok := range tokens {
		if i > 0 && tok.Type != TokenDot && tokens[i-1].Type != TokenDot {
			b.WriteByte(' ')
		}

		b.WriteString(renderToken(tok))
	}

	return b.String()
}

func renderToken(tok Token) string {
	switch tok.Type {
	case TokenKeyword, TokenIdentifier:
		return strings.ToLower(tok.Literal)
	case TokenQuotedIdentifier:
		return strings.ToLower(normalizeIdent(tok.Literal))
	case TokenOperator:
		if tok.Literal == "!=" {
			return "<>"
		}

		return tok.Literal
	default:
		return tok.Literal
	}
}
