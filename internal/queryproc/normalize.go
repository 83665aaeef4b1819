package queryproc

import (
	"math"
	"strconv"
)

// computeBufferDistance snaps d up to the next power-of-two multiple of
// unit, per spec.md §4.1 Phase B distance normalization. Two distances that
// snap to the same value must render identically so their fragments hash
// the same.
func computeBufferDistance(d, unit float64) float64 {
	if unit <= 0 {
		unit = 1
	}

	if d <= unit {
		return unit
	}

	pow := math.Ceil(math.Log2(d / unit))

	return unit * math.Pow(2, pow)
}

// normalizeDistancePredicate rewrites a `distance(a, b) < d` / `<= d` call
// (commonly found as an entire top-level predicate) into
// `a within buffer(b, d')`. Normalization is only applied when
// Options.GeometryColumn is set - its presence is what tells the processor
// this query domain uses snapped spatial predicates at all.
func normalizeDistancePredicate(tokens []Token, opts Options) []Token {
	if opts.GeometryColumn == "" {
		return tokens
	}

	for i, tok := range tokens {
		if tok.Type != TokenIdentifier || !isDistanceCall(tok, tokens, i) {
			continue
		}

		closeIdx, arg1, arg2, ok := splitDistanceArgs(tokens, i+1)
		if !ok {
			continue
		}

		k := closeIdx + 1
		if k >= len(tokens) || tokens[k].Type != TokenOperator {
			continue
		}

		op := tokens[k].Literal
		if op != "<" && op != "<=" {
			continue
		}

		if k+1 >= len(tokens) || tokens[k+1].Type != TokenNumber {
			continue
		}

		d, err := strconv.ParseFloat(tokens[k+1].Literal, 64)
		if err != nil {
			continue
		}

		snapped := computeBufferDistance(d, opts.BufferUnit)

		replacement := buildWithinBuffer(arg1, arg2, snapped)

		out := make([]Token, 0, len(tokens))
		out = append(out, tokens[:i]...)
		out = append(out, replacement...)
		out = append(out, tokens[k+2:]...)

		return normalizeDistancePredicate(out, opts)
	}

	return tokens
}

func isDistanceCall(tok Token, tokens []Token, i int) bool {
	if tok.Upper() != "DISTANCE" {
		return false
	}

	return i+1 < len(tokens) && tokens[i+1].Type == TokenLParen
}

// splitDistanceArgs reads the balanced-paren argument list starting at the
// "(" token index parenIdx, returning the index of the matching ")" and the
// two top-level-comma-separated argument spans.
func splitDistanceArgs(tokens []Token, parenIdx int) (closeIdx int, arg1, arg2 []Token, ok bool) { //nolint:nonamedreturns
	depth := 0

	j := parenIdx
	argsStart := parenIdx + 1
	closeIdx = -1

	for ; j < len(tokens); j++ {
		switch tokens[j].Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--

			if depth == 0 {
				closeIdx = j
			}
		default:
		}

		if closeIdx >= 0 {
			break
		}
	}

	if closeIdx < 0 {
		return 0, nil, nil, false
	}

	inner := tokens[argsStart:closeIdx]

	commaIdx := topLevelCommaIndex(inner)
	if commaIdx < 0 {
		return 0, nil, nil, false
	}

	return closeIdx, inner[:commaIdx], inner[commaIdx+1:], true
}

func topLevelCommaIndex(tokens []Token) int {
	depth := 0

	for i, tok := range tokens {
		switch tok.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenComma:
			if depth == 0 {
				return i
			}
		default:
		}
	}

	return -1
}

func buildWithinBuffer(arg1, arg2 []Token, d float64) []Token {
	out := make([]Token, 0, len(arg1)+len(arg2)+6)
	out = append(out, arg1...)
	out = append(out, Token{Type: TokenIdentifier, Literal: "within"})
	out = append(out, Token{Type: TokenIdentifier, Literal: "buffer"})
	out = append(out, Token{Type: TokenLParen, Literal: "("})
	out = append(out, arg2...)
	out = append(out, Token{Type: TokenComma, Literal: ","})
	out = append(out, Token{Type: TokenNumber, Literal: strconv.FormatFloat(d, 'f', -1, 64)})
	out = append(out, Token{Type: TokenRParen, Literal: ")"})

	return out
}

// isTriviallyTrue reports whether a predicate is of the form `X = X` for
// some identical token sequence X (covers both `1=1` and `x=x`), per
// spec.md's Phase B constant folding.
func isTriviallyTrue(tokens []Token) bool {
	idx := topLevelOperatorIndex(tokens, "=")
	if idx < 0 {
		return false
	}

	if containsTopLevelKeyword(tokens[:idx], "OR") || containsTopLevelKeyword(tokens[idx+1:], "OR") {
		return false
	}

	left, right := tokens[:idx], tokens[idx+1:]

	return tokensEqual(left, right)
}

func tokensEqual(a, b []Token) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].Type != b[i].Type || renderToken(a[i]) != renderToken(b[i]) {
			return false
		}
	}

	return true
}

// canonicalizeOperands reorders the two sides of a bare `A = B` / `A <> B`
// predicate into lexicographic order by canonical rendering, per spec.md
// Phase E. Predicates containing a top-level AND/OR are left untouched -
// operand reordering only applies to the simple binary-comparison case.
func canonicalizeOperands(tokens []Token) []Token {
	idx := topLevelOperatorIndex(tokens, "=")
	if idx < 0 {
		idx = topLevelOperatorIndex(tokens, "<>")
	}

	if idx < 0 {
		return tokens
	}

	if containsTopLevelKeyword(tokens, "AND") || containsTopLevelKeyword(tokens, "OR") {
		return tokens
	}

	left, right := tokens[:idx], tokens[idx+1:]
	if len(left) == 0 || len(right) == 0 {
		return tokens
	}

	if renderExpr(left) <= renderExpr(right) {
		return tokens
	}

	out := make([]Token, 0, len(tokens))
	out = append(out, right...)
	out = append(out, tokens[idx])
	out = append(out, left...)

	return out
}

func topLevelOperatorIndex(tokens []Token, op string) int {
	depth := 0

	for i, tok := range tokens {
		switch tok.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenOperator:
			if depth == 0 && opEquivalent(tok.Literal, op) {
				return i
			}
		default:
		}
	}

	return -1
}

func opEquivalent(lit, target string) bool {
	if target == "<>" {
		return lit == "<>" || lit == "!="
	}

	return lit == target
}

func containsTopLevelKeyword(tokens []Token, kw string) bool {
	depth := 0

	for _, tok := range tokens {
		switch tok.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenKeyword:
			if depth == 0 && tok.Upper() == kw {
				return true
			}
		default:
		}
	}

	return false
}
