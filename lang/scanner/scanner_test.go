package scanner_test

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zxul767/lox/lang/scanner"
	"github.com/zxul767/lox/lang/token"
)

func scanAll(t *testing.T, src string) []scanner.Token {
	t.Helper()

	s := scanner.New(src)
	var toks []scanner.Token
	for {
		tok := s.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
		require.Less(t, len(toks), 10000, "scanner does not terminate")
	}
}

func kinds(toks []scanner.Token) []token.Token {
	ks := make([]token.Token, len(toks))
	for i, tok := range toks {
		ks[i] = tok.Kind
	}
	return ks
}

func TestPunctuation(t *testing.T) {
	toks := scanAll(t, "(){}[],.-+;/ * ! != = == > >= < <=")
	assert.Equal(t, []token.Token{
		token.LPAREN, token.RPAREN, token.LBRACE, token.RBRACE,
		token.LBRACK, token.RBRACK, token.COMMA, token.DOT,
		token.MINUS, token.PLUS, token.SEMI, token.SLASH, token.STAR,
		token.BANG, token.BANGEQ, token.EQ, token.EQEQ,
		token.GT, token.GE, token.LT, token.LE, token.EOF,
	}, kinds(toks))
}

func TestKeywordsAndIdents(t *testing.T) {
	toks := scanAll(t, "and class else false for fun if nil or print return super this true var while")
	for _, tok := range toks[:len(toks)-1] {
		assert.True(t, tok.Kind.IsKeyword(), "%s", tok.Lexeme)
		assert.Equal(t, tok.Lexeme, tok.Kind.String())
	}

	// near-keywords fall through to IDENT
	toks = scanAll(t, "an classy el fals force funny iff nile ors printer returns superb thistle truest variance whiles x _x x2 _")
	for _, tok := range toks[:len(toks)-1] {
		assert.Equal(t, token.IDENT, tok.Kind, "%s", tok.Lexeme)
	}
}

func TestNumbers(t *testing.T) {
	toks := scanAll(t, "0 123 3.14 10.0")
	require.Len(t, toks, 5)
	for _, tok := range toks[:4] {
		assert.Equal(t, token.NUMBER, tok.Kind)
	}

	// no digit after the dot: the dot is its own token
	toks = scanAll(t, "1.")
	assert.Equal(t, []token.Token{token.NUMBER, token.DOT, token.EOF}, kinds(toks))
	assert.Equal(t, "1", toks[0].Lexeme)

	// and no digit before it either
	toks = scanAll(t, ".5")
	assert.Equal(t, []token.Token{token.DOT, token.NUMBER, token.EOF}, kinds(toks))
}

func TestStrings(t *testing.T) {
	toks := scanAll(t, `"hello" "wor ld"`)
	require.Len(t, toks, 3)
	assert.Equal(t, token.STRING, toks[0].Kind)
	assert.Equal(t, `"hello"`, toks[0].Lexeme)
	assert.Equal(t, token.STRING, toks[1].Kind)

	// embedded newlines are allowed and counted
	toks = scanAll(t, "\"a\nb\" x")
	assert.Equal(t, token.STRING, toks[0].Kind)
	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 2, toks[1].Line)

	// unterminated string produces an error token
	toks = scanAll(t, `"oops`)
	assert.Equal(t, token.ILLEGAL, toks[0].Kind)
	assert.Equal(t, "Unterminated string.", toks[0].Lexeme)
}

func TestComments(t *testing.T) {
	toks := scanAll(t, "a // rest of line\nb")
	assert.Equal(t, []token.Token{token.IDENT, token.IDENT, token.EOF}, kinds(toks))
	assert.Equal(t, 2, toks[1].Line)

	// block comments nest
	toks = scanAll(t, "a /* one /* two */ still */ b")
	assert.Equal(t, []token.Token{token.IDENT, token.IDENT, token.EOF}, kinds(toks))

	toks = scanAll(t, "a /* \n /* inner */ no end")
	assert.Equal(t, token.IDENT, toks[0].Kind)
	assert.Equal(t, token.ILLEGAL, toks[1].Kind)
	assert.Equal(t, "Unterminated block comment.", toks[1].Lexeme)
}

func TestUnexpectedCharacter(t *testing.T) {
	toks := scanAll(t, "a @ b")
	assert.Equal(t, []token.Token{token.IDENT, token.ILLEGAL, token.IDENT, token.EOF}, kinds(toks))
	assert.Equal(t, "Unexpected character.", toks[1].Lexeme)
}

// The concatenation of token lexemes equals the source with whitespace and
// comments removed, and line numbers never decrease.
func TestLexemesRoundTrip(t *testing.T) {
	src := `
var answer = 6 * 7; // comment
/* block
   /* nested */ end */
fun add(a, b) { return a + b; }
print "str" != nil;
`
	toks := scanAll(t, src)

	var b strings.Builder
	for _, tok := range toks {
		if tok.Kind != token.EOF {
			b.WriteString(tok.Lexeme)
		}
	}

	stripped := src
	for _, cut := range []string{"// comment", "/* block\n   /* nested */ end */"} {
		stripped = strings.Replace(stripped, cut, "", 1)
	}
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, stripped)
	assert.Equal(t, stripped, b.String())

	line := 0
	for _, tok := range toks {
		assert.GreaterOrEqual(t, tok.Line, line)
		line = tok.Line
	}
}
