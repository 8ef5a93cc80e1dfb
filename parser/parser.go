// Package parser implements the syntactic analyzer for the language.
//
// The parser takes a stream of tokens from the lexer and constructs an
// Abstract Syntax Tree that represents the structure of the program. It is a
// hand-written recursive-descent parser for statements and top-level forms,
// with Pratt parsing (precedence climbing) for expressions.
package parser

import (
	"fmt"
	"strconv"

	"github.com/orbc-lang/orbc/ast"
	"github.com/orbc-lang/orbc/lexer"
	"github.com/orbc-lang/orbc/token"
)

const (
	_ int = iota

	// LOWEST is the default, weakest binding precedence.
	LOWEST

	// EQUALITY covers ==, !=, <, <=, >, >= — a single non-chaining tier.
	EQUALITY

	// SUM covers + and -.
	SUM

	// PRODUCT covers * and /.
	PRODUCT

	// POWER covers ^, binding tighter than * and /.
	POWER

	// CALL covers call, index and dot-chain postfix operators.
	CALL
)

var precedences = map[token.Type]int{
	token.EQ:       EQUALITY,
	token.NOT_EQ:   EQUALITY,
	token.LT:       EQUALITY,
	token.LT_EQ:    EQUALITY,
	token.GT:       EQUALITY,
	token.GT_EQ:    EQUALITY,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.ASTERISK: PRODUCT,
	token.SLASH:    PRODUCT,
	token.CARET:    POWER,
	token.LPAREN:   CALL,
	token.LBRACKET: CALL,
	token.DOT:      CALL,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser consumes a token stream and builds an AST, accumulating errors
// rather than aborting at the first one.
type Parser struct {
	l      *lexer.Lexer
	errors []error

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.Type]prefixParseFn
	infixParseFns  map[token.Type]infixParseFn
}

// New creates a Parser over the tokens produced by l.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifier)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.FLOAT, p.parseFloatLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.TRUE, p.parseBooleanLiteral)
	p.registerPrefix(token.FALSE, p.parseBooleanLiteral)
	p.registerPrefix(token.NULL, p.parseNullLiteral)
	p.registerPrefix(token.LBRACKET, p.parseArrayLiteral)
	p.registerPrefix(token.LBRACE, p.parseDictLiteral)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.FUNCTION, p.parseLambda)
	p.registerPrefix(token.NEW, p.parseNewObject)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	for _, t := range []token.Type{token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.CARET,
		token.EQ, token.NOT_EQ, token.LT, token.LT_EQ, token.GT, token.GT_EQ} {
		p.registerInfix(t, p.parseBinaryExpr)
	}
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.LBRACKET, p.parseIndexExpression)
	p.registerInfix(token.DOT, p.parseDotExpression)

	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) registerPrefix(t token.Type, fn prefixParseFn) { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.Type, fn infixParseFn)   { p.infixParseFns[t] = fn }

// Errors returns every error accumulated while parsing.
func (p *Parser) Errors() []error { return p.errors }

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t token.Type) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t token.Type) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) peekError(t token.Type) {
	p.errors = append(p.errors, fmt.Errorf("expected next token to be %s, got %s (%q) instead",
		t, p.peekToken.Type, p.peekToken.Literal))
}

func (p *Parser) noPrefixParseFnError(t token.Type) {
	p.errors = append(p.errors, fmt.Errorf("no prefix parse function for %s found", t))
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseProgram parses a complete program: a sequence of top-level forms.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}

	for !p.curTokenIs(token.EOF) {
		stmt := p.parseTopLevelStatement()
		if stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}
	return program
}

func (p *Parser) parseTopLevelStatement() ast.Statement {
	switch p.curToken.Type {
	case token.COMMENT:
		return p.parseComment()
	case token.CONST:
		return p.parseConstDecl()
	case token.CLASS:
		return p.parseClassDecl()
	case token.FUNCTION:
		return p.parseFunctionDecl()
	default:
		p.errors = append(p.errors, fmt.Errorf("unexpected top-level token %s (%q)", p.curToken.Type, p.curToken.Literal))
		return nil
	}
}

func (p *Parser) parseComment() *ast.Comment {
	return &ast.Comment{Token: p.curToken, Text: p.curToken.Literal}
}

func (p *Parser) parseConstDecl() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
	if !p.expectPeek(token.ASSIGN) {
		return nil
	}
	p.nextToken()
	value := p.parseExpression(LOWEST)
	return &ast.ConstDecl{Token: tok, Name: name, Value: value}
}

func (p *Parser) parseClassDecl() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
	p.nextToken()

	var members []ast.ClassMember
	for !p.curTokenIs(token.END) && !p.curTokenIs(token.EOF) {
		switch p.curToken.Type {
		case token.COMMENT:
			members = append(members, ast.ClassMember{Comment: p.parseComment()})
		case token.VAR:
			p.nextToken()
			field := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
			members = append(members, ast.ClassMember{Field: field})
		case token.FUNCTION:
			if m, ok := p.parseFunctionDecl().(*ast.FunctionDecl); ok {
				members = append(members, ast.ClassMember{Method: m})
			}
		default:
			p.errors = append(p.errors, fmt.Errorf("class body item must be a field or function, got %s", p.curToken.Type))
		}
		p.nextToken()
	}
	return &ast.ClassDecl{Token: tok, Name: name, Members: members}
}

func (p *Parser) parseFunctionDecl() ast.Statement {
	tok := p.curToken // FUNCTION
	if !p.expectPeek(token.IDENT) {
		return nil
	}

	var className string
	var nameTok token.Token
	if p.peekTokenIs(token.COLON) {
		className = p.curToken.Literal
		p.nextToken() // now at COLON
		if !p.expectPeek(token.IDENT) {
			return nil
		}
	}
	nameTok = p.curToken
	name := &ast.Identifier{Token: nameTok, Value: nameTok.Literal}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	params := p.parseParameterList()

	body := p.parseBlockUntil(token.END)
	if !p.curTokenIs(token.END) {
		p.errors = append(p.errors, fmt.Errorf("function %s: expected end, got %s", name.Value, p.curToken.Type))
	}

	return &ast.FunctionDecl{Token: tok, ClassName: className, Name: name, Parameters: params, Body: body}
}

// parseParameterList parses `(p1, p2)` starting with curToken == LPAREN and
// leaves curToken on the closing RPAREN.
func (p *Parser) parseParameterList() []*ast.Identifier {
	var params []*ast.Identifier

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return params
	}

	p.nextToken()
	params = append(params, &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal})

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		params = append(params, &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal})
	}

	if !p.expectPeek(token.RPAREN) {
		return params
	}
	return params
}

// parseBlockUntil parses statements starting at the token after the current
// one, stopping once curToken is terminator, ELSE (either left unconsumed) or EOF.
func (p *Parser) parseBlockUntil(terminator token.Type) *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}
	p.nextToken()

	for !p.curTokenIs(terminator) && !p.curTokenIs(token.EOF) {
		if p.curTokenIs(token.ELSE) {
			break
		}
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.COMMENT:
		return p.parseComment()
	case token.VAR:
		return p.parseVarDecl()
	case token.RETURN:
		return p.parseReturnStatement()
	case token.WHILE:
		return p.parseWhile()
	case token.FOR:
		return p.parseFor()
	case token.IF:
		return p.parseIfElse()
	case token.IDENT:
		return p.parseIdentifierLedStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseVarDecl() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}

	if !p.peekTokenIs(token.ASSIGN) {
		return &ast.VarDecl{Token: tok, Name: name}
	}
	p.nextToken() // ASSIGN
	p.nextToken()
	value := p.parseExpression(LOWEST)
	return &ast.VarDecl{Token: tok, Name: name, Value: value}
}

// parseIdentifierLedStatement disambiguates `x = e`, `x[k] = e` and a bare
// expression statement (call, dot-chain) that happens to start with an
// identifier.
func (p *Parser) parseIdentifierLedStatement() ast.Statement {
	switch p.peekToken.Type {
	case token.ASSIGN:
		tok := p.curToken
		name := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
		p.nextToken() // ASSIGN
		p.nextToken()
		value := p.parseExpression(LOWEST)
		return &ast.Assign{Token: tok, Name: name, Value: value}
	case token.LBRACKET:
		tok := p.curToken
		name := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
		p.nextToken() // LBRACKET
		p.nextToken()
		key := p.parseExpression(LOWEST)
		if !p.expectPeek(token.RBRACKET) {
			return nil
		}
		if !p.expectPeek(token.ASSIGN) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(LOWEST)
		return &ast.IndexAssign{Token: tok, Collection: name, Key: key, Value: value}
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	tok := p.curToken
	expr := p.parseExpression(LOWEST)
	return &ast.ExpressionStatement{Token: tok, Expression: expr}
}

func (p *Parser) parseReturnStatement() ast.Statement {
	tok := p.curToken
	if p.peekTokenIs(token.END) {
		return &ast.ReturnStatement{Token: tok}
	}
	p.nextToken()
	value := p.parseExpression(LOWEST)
	return &ast.ReturnStatement{Token: tok, ReturnValue: value}
}

func (p *Parser) parseWhile() ast.Statement {
	tok := p.curToken
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if !p.expectPeek(token.DO) {
		return nil
	}
	body := p.parseBlockUntil(token.END)
	return &ast.While{Token: tok, Condition: cond, Body: body}
}

func (p *Parser) parseFor() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	variable := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}

	if p.peekTokenIs(token.IN) {
		p.nextToken() // IN
		p.nextToken()
		coll := p.parseExpression(LOWEST)
		if !p.expectPeek(token.DO) {
			return nil
		}
		body := p.parseBlockUntil(token.END)
		return &ast.ForIn{Token: tok, Variable: variable, Collection: coll, Body: body}
	}

	if !p.expectPeek(token.ASSIGN) {
		return nil
	}
	p.nextToken()
	start := p.parseExpression(LOWEST)
	if !p.expectPeek(token.TO) {
		return nil
	}
	p.nextToken()
	end := p.parseExpression(LOWEST)

	var step ast.Expression
	if p.peekTokenIs(token.STEP) {
		p.nextToken()
		p.nextToken()
		step = p.parseExpression(LOWEST)
	}

	if !p.expectPeek(token.DO) {
		return nil
	}
	body := p.parseBlockUntil(token.END)
	return &ast.ForCounted{Token: tok, Variable: variable, Start: start, End: end, Step: step, Body: body}
}

func (p *Parser) parseIfElse() ast.Statement {
	tok := p.curToken
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if !p.expectPeek(token.THEN) {
		return nil
	}
	cons := p.parseBlockUntil(token.END)

	var alt *ast.BlockStatement
	if p.curTokenIs(token.ELSE) {
		alt = p.parseBlockUntil(token.END)
	}

	return &ast.IfElse{Token: tok, Condition: cond, Consequence: cons, Alternative: alt}
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekTokenIs(token.EOF) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	lit := &ast.IntegerLiteral{Token: p.curToken}
	v, err := strconv.ParseInt(p.curToken.Literal, 10, 32)
	if err != nil {
		p.errors = append(p.errors, fmt.Errorf("could not parse %q as integer", p.curToken.Literal))
		return nil
	}
	lit.Value = int32(v)
	return lit
}

func (p *Parser) parseFloatLiteral() ast.Expression {
	lit := &ast.FloatLiteral{Token: p.curToken}
	v, err := strconv.ParseFloat(p.curToken.Literal, 32)
	if err != nil {
		p.errors = append(p.errors, fmt.Errorf("could not parse %q as float", p.curToken.Literal))
		return nil
	}
	lit.Value = float32(v)
	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBooleanLiteral() ast.Expression {
	return &ast.BooleanLiteral{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parseNullLiteral() ast.Expression {
	return &ast.NullLiteral{Token: p.curToken}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	arr := &ast.ArrayLit{Token: p.curToken}
	arr.Elements = p.parseExpressionList(token.RBRACKET)
	return arr
}

func (p *Parser) parseDictLiteral() ast.Expression {
	dict := &ast.DictLit{Token: p.curToken}

	for !p.peekTokenIs(token.RBRACE) {
		p.nextToken()
		if !p.curTokenIs(token.STRING) {
			p.errors = append(p.errors, fmt.Errorf("dictionary key must be a string, got %s", p.curToken.Type))
			return nil
		}
		key := p.curToken.Literal
		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(LOWEST)
		dict.Pairs = append(dict.Pairs, ast.DictPair{Key: key, Value: value})

		if p.peekTokenIs(token.COMMA) {
			p.nextToken()
		}
	}

	if !p.expectPeek(token.RBRACE) {
		return nil
	}
	return dict
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseLambda() ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	params := p.parseParameterList()
	body := p.parseBlockUntil(token.END)
	return &ast.Lambda{Token: tok, Parameters: params, Body: body}
}

func (p *Parser) parseNewObject() ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	className := p.curToken.Literal
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	args := p.parseExpressionList(token.RPAREN)
	return &ast.NewObject{Token: tok, ClassName: className, Arguments: args}
}

func (p *Parser) parseBinaryExpr(left ast.Expression) ast.Expression {
	tok := p.curToken
	expr := &ast.BinaryExpr{Token: tok, Left: left, Operator: tok.Literal}
	precedence := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	return expr
}

func (p *Parser) parseCallExpression(callee ast.Expression) ast.Expression {
	tok := p.curToken
	args := p.parseExpressionList(token.RPAREN)
	return &ast.Call{Token: tok, Callee: callee, Arguments: args}
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	key := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return &ast.Index{Token: tok, Collection: left, Key: key}
}

func (p *Parser) parseDotExpression(left ast.Expression) ast.Expression {
	tok := p.curToken // '.'
	p.nextToken()     // segment name
	ident := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}

	var segment ast.Expression = ident
	switch {
	case p.peekTokenIs(token.LPAREN):
		p.nextToken()
		args := p.parseExpressionList(token.RPAREN)
		segment = &ast.Call{Token: tok, Callee: ident, Arguments: args}
	case p.peekTokenIs(token.LBRACKET):
		p.nextToken()
		p.nextToken()
		key := p.parseExpression(LOWEST)
		if !p.expectPeek(token.RBRACKET) {
			return nil
		}
		segment = &ast.Index{Token: tok, Collection: ident, Key: key}
	}

	if dc, ok := left.(*ast.DotChain); ok {
		dc.Segments = append(dc.Segments, segment)
		return dc
	}
	return &ast.DotChain{Token: tok, Head: left, Segments: []ast.Expression{segment}}
}

// parseExpressionList parses a comma-separated expression list terminated by end,
// with curToken positioned at the opening delimiter on entry.
func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression

	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}

	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}

	if !p.expectPeek(end) {
		return nil
	}
	return list
}
