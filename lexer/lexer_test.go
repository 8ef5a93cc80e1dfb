package lexer

import (
	"testing"

	"github.com/orbc-lang/orbc/token"
)

// TestNextToken tests the functionality of the NextToken method in the Lexer to ensure all tokens are correctly identified.
func TestNextToken(t *testing.T) {
	input := `const limit = 5
-- a comment, with punctuation
function add(x, y)
  return x + y
end
var result = add(5, 10)
5 < 10 > 5
5 <= 10 >= 5
if 5 < 10 then
  return true
else
  return false
end
10 == 10
10 != 9
-3 + 2
x - 1
"foobar"
"foo bar"
[1, 2]
{"foo": "bar"}
obj.field
for i = 1 to 5 step 2 do
end
new Thing(1)
2.5 ^ 2
`

	tests := []struct {
		expectedType    token.Type
		expectedLiteral string
	}{
		{token.CONST, "const"},
		{token.IDENT, "limit"},
		{token.ASSIGN, "="},
		{token.INT, "5"},
		{token.COMMENT, "a comment, with punctuation"},
		{token.FUNCTION, "function"},
		{token.IDENT, "add"},
		{token.LPAREN, "("},
		{token.IDENT, "x"},
		{token.COMMA, ","},
		{token.IDENT, "y"},
		{token.RPAREN, ")"},
		{token.RETURN, "return"},
		{token.IDENT, "x"},
		{token.PLUS, "+"},
		{token.IDENT, "y"},
		{token.END, "end"},
		{token.VAR, "var"},
		{token.IDENT, "result"},
		{token.ASSIGN, "="},
		{token.IDENT, "add"},
		{token.LPAREN, "("},
		{token.INT, "5"},
		{token.COMMA, ","},
		{token.INT, "10"},
		{token.RPAREN, ")"},
		{token.INT, "5"},
		{token.LT, "<"},
		{token.INT, "10"},
		{token.GT, ">"},
		{token.INT, "5"},
		{token.INT, "5"},
		{token.LT_EQ, "<="},
		{token.INT, "10"},
		{token.GT_EQ, ">="},
		{token.INT, "5"},
		{token.IF, "if"},
		{token.INT, "5"},
		{token.LT, "<"},
		{token.INT, "10"},
		{token.THEN, "then"},
		{token.RETURN, "return"},
		{token.TRUE, "true"},
		{token.ELSE, "else"},
		{token.RETURN, "return"},
		{token.FALSE, "false"},
		{token.END, "end"},
		{token.INT, "10"},
		{token.EQ, "=="},
		{token.INT, "10"},
		{token.INT, "10"},
		{token.NOT_EQ, "!="},
		{token.INT, "9"},
		{token.INT, "-3"},
		{token.PLUS, "+"},
		{token.INT, "2"},
		{token.IDENT, "x"},
		{token.MINUS, "-"},
		{token.INT, "1"},
		{token.STRING, "foobar"},
		{token.STRING, "foo bar"},
		{token.LBRACKET, "["},
		{token.INT, "1"},
		{token.COMMA, ","},
		{token.INT, "2"},
		{token.RBRACKET, "]"},
		{token.LBRACE, "{"},
		{token.STRING, "foo"},
		{token.COLON, ":"},
		{token.STRING, "bar"},
		{token.RBRACE, "}"},
		{token.IDENT, "obj"},
		{token.DOT, "."},
		{token.IDENT, "field"},
		{token.FOR, "for"},
		{token.IDENT, "i"},
		{token.ASSIGN, "="},
		{token.INT, "1"},
		{token.TO, "to"},
		{token.INT, "5"},
		{token.STEP, "step"},
		{token.INT, "2"},
		{token.DO, "do"},
		{token.END, "end"},
		{token.NEW, "new"},
		{token.IDENT, "Thing"},
		{token.LPAREN, "("},
		{token.INT, "1"},
		{token.RPAREN, ")"},
		{token.FLOAT, "2.5"},
		{token.CARET, "^"},
		{token.INT, "2"},
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (literal %q)",
				i, tt.expectedType, tok.Type, tok.Literal)
		}

		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != token.ILLEGAL {
		t.Fatalf("expected ILLEGAL, got %q", tok.Type)
	}
}
