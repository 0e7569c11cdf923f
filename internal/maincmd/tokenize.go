package maincmd

import (
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/zxul767/lox/lang/scanner"
	"github.com/zxul767/lox/lang/token"
)

// tokenizeFiles scans each file and prints its tokens, one per line.
func (c *Cmd) tokenizeFiles(stdio mainer.Stdio, paths []string) mainer.ExitCode {
	code := mainer.Success
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			return exitIO
		}

		sc := scanner.New(string(src))
		for {
			tok := sc.Next()
			switch tok.Kind {
			case token.EOF:
				fmt.Fprintf(stdio.Stdout, "[line %d] end of file\n", tok.Line)
			case token.ILLEGAL:
				fmt.Fprintf(stdio.Stderr, "[line %d] Error: %s\n", tok.Line, tok.Lexeme)
				code = exitCompile
			default:
				fmt.Fprintf(stdio.Stdout, "[line %d] %s '%s'\n", tok.Line, kindLabel(tok.Kind), tok.Lexeme)
			}
			if tok.Kind == token.EOF {
				break
			}
		}
	}
	return code
}

// kindLabel names a token kind without repeating the lexeme for literal
// punctuation and keywords.
func kindLabel(kind token.Token) string {
	switch {
	case kind == token.IDENT:
		return "identifier"
	case kind == token.NUMBER:
		return "number"
	case kind == token.STRING:
		return "string"
	case kind.IsKeyword():
		return "keyword"
	}
	return "punct"
}
