package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenNames(t *testing.T) {
	// every token up to maxToken must have a name
	for tok := ILLEGAL; tok < maxToken; tok++ {
		assert.NotEmpty(t, tok.String(), "token %d has no name", tok)
	}
}

func TestGoString(t *testing.T) {
	cases := []struct {
		tok  Token
		want string
	}{
		{PLUS, "'+'"},
		{BANGEQ, "'!='"},
		{LE, "'<='"},
		{IDENT, "identifier"},
		{AND, "and"},
		{EOF, "end of file"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.tok.GoString())
	}
}

func TestIsKeyword(t *testing.T) {
	for tok := AND; tok <= WHILE; tok++ {
		assert.True(t, tok.IsKeyword(), "%s", tok)
	}
	for _, tok := range []Token{ILLEGAL, EOF, IDENT, NUMBER, STRING, LPAREN, LE, EQ} {
		assert.False(t, tok.IsKeyword(), "%s", tok)
	}
}
