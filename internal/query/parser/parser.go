package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token

	// Unsupported is set when the input is valid SQL the planner does not handle.
	Unsupported bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token.Literal)
}

// Parser parses SQL statements into AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses the input and returns a Statement.
func Parse(input string) (Statement, error) {
	p := NewParser(input)
	return p.ParseStatement()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

func (p *Parser) unsupported(format string, args ...interface{}) *ParseError {
	e := p.errorf(format, args...)
	e.Unsupported = true
	return e
}

// expect consumes the current token if it has the given type.
func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorf("expected %s", t.String())
	}
	p.nextToken()
	return nil
}

// ParseStatement parses a single SQL statement, optionally terminated by ';'.
func (p *Parser) ParseStatement() (Statement, error) {
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if p.curTokenIs(TokenError) {
		return nil, p.errorf("invalid token")
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected token after statement")
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.curToken.Type {
	case TokenSelect:
		return p.parseSelectStatement()
	case TokenDelete:
		return p.parseDeleteStatement()
	case TokenUpdate:
		return p.parseUpdateStatement()
	case TokenExplain:
		p.nextToken()
		if p.curTokenIs(TokenExplain) {
			return nil, p.errorf("nested EXPLAIN")
		}
		inner, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ExplainStatement{Statement: inner}, nil
	default:
		return nil, p.errorf("expected SELECT, DELETE, UPDATE, or EXPLAIN")
	}
}

// parseSelectStatement parses a SELECT statement.
func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	// Skip SELECT
	p.nextToken()

	if p.curTokenIs(TokenDistinct) {
		stmt.Distinct = true
		p.nextToken()
	}

	columns, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	stmt.Columns = columns

	if p.curTokenIs(TokenFrom) {
		p.nextToken()
		tableRef, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		stmt.From = tableRef

		joins, err := p.parseJoins()
		if err != nil {
			return nil, err
		}
		stmt.Joins = joins
	}

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.curTokenIs(TokenGroupBy) {
		p.nextToken()
		if err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		groupBy, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = groupBy
	}

	if p.curTokenIs(TokenHaving) {
		p.nextToken()
		having, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	if p.curTokenIs(TokenOrderBy) {
		p.nextToken()
		if err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		orderBy, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = orderBy
	}

	if p.curTokenIs(TokenLimit) {
		p.nextToken()
		limit, err := p.parseCount("LIMIT")
		if err != nil {
			return nil, err
		}
		stmt.Limit = &limit
	}

	if p.curTokenIs(TokenOffset) {
		p.nextToken()
		offset, err := p.parseCount("OFFSET")
		if err != nil {
			return nil, err
		}
		stmt.Offset = &offset
	}

	return stmt, nil
}

// parseCount parses the non-negative integer after LIMIT or OFFSET.
func (p *Parser) parseCount(clause string) (int64, error) {
	if !p.curTokenIs(TokenNumber) {
		return 0, p.errorf("expected number after %s", clause)
	}
	n, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		return 0, p.errorf("invalid %s value", clause)
	}
	p.nextToken()
	return n, nil
}

// parseJoins parses comma joins and [INNER|CROSS] JOIN clauses.
func (p *Parser) parseJoins() ([]JoinClause, error) {
	var joins []JoinClause
	for {
		switch p.curToken.Type {
		case TokenComma:
			p.nextToken()
			ref, err := p.parseTableRef()
			if err != nil {
				return nil, err
			}
			joins = append(joins, JoinClause{Table: ref})

		case TokenCross:
			p.nextToken()
			if err := p.expect(TokenJoin); err != nil {
				return nil, err
			}
			ref, err := p.parseTableRef()
			if err != nil {
				return nil, err
			}
			joins = append(joins, JoinClause{Table: ref})

		case TokenInner, TokenJoin:
			if p.curTokenIs(TokenInner) {
				p.nextToken()
			}
			if err := p.expect(TokenJoin); err != nil {
				return nil, err
			}
			ref, err := p.parseTableRef()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TokenOn); err != nil {
				return nil, err
			}
			on, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			joins = append(joins, JoinClause{Table: ref, On: on})

		case TokenLeft, TokenRight, TokenFull:
			return nil, p.unsupported("outer joins are not supported")

		default:
			return joins, nil
		}
	}
}

// parseDeleteStatement parses DELETE FROM table [WHERE expr].
func (p *Parser) parseDeleteStatement() (*DeleteStatement, error) {
	p.nextToken() // Skip DELETE
	if err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	ref, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: ref}

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// parseUpdateStatement parses UPDATE table SET col = expr, ... [WHERE expr].
func (p *Parser) parseUpdateStatement() (*UpdateStatement, error) {
	p.nextToken() // Skip UPDATE
	ref, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenSet); err != nil {
		return nil, err
	}

	stmt := &UpdateStatement{Table: ref}
	for {
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected column name in SET")
		}
		col := p.curToken.Literal
		p.nextToken()
		if err := p.expect(TokenEq); err != nil {
			return nil, err
		}
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: val})

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// parseSelectColumns parses the column list in a SELECT statement.
func (p *Parser) parseSelectColumns() ([]SelectColumn, error) {
	var columns []SelectColumn

	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return columns, nil
}

// parseSelectColumn parses a single column in the SELECT clause.
func (p *Parser) parseSelectColumn() (SelectColumn, error) {
	col := SelectColumn{}

	if p.curTokenIs(TokenStar) {
		col.Expr = &StarExpr{}
		p.nextToken()
		return col, nil
	}

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return col, err
	}
	col.Expr = expr

	if p.curTokenIs(TokenAs) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return col, p.errorf("expected identifier after AS")
		}
		col.Alias = p.curToken.Literal
		p.nextToken()
	} else if p.curTokenIs(TokenIdent) {
		// Alias without AS
		col.Alias = p.curToken.Literal
		p.nextToken()
	}

	return col, nil
}

// parseTableRef parses a possibly schema-qualified table reference.
func (p *Parser) parseTableRef() (*TableRef, error) {
	if p.curTokenIs(TokenLParen) {
		return nil, p.unsupported("subqueries are not supported")
	}
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected table name")
	}

	ref := &TableRef{Name: p.curToken.Literal}
	p.nextToken()

	if p.curTokenIs(TokenDot) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected table name after schema")
		}
		ref.Name = ref.Name + "." + p.curToken.Literal
		p.nextToken()
	}

	if p.curTokenIs(TokenAs) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected identifier after AS")
		}
		ref.Alias = p.curToken.Literal
		p.nextToken()
	} else if p.curTokenIs(TokenIdent) {
		// Alias without AS
		ref.Alias = p.curToken.Literal
		p.nextToken()
	}

	return ref, nil
}

// parseExpressionList parses a comma-separated list of expressions.
func (p *Parser) parseExpressionList() ([]Expression, error) {
	var exprs []Expression

	for {
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return exprs, nil
}

// parseOrderByList parses the ORDER BY clause items.
func (p *Parser) parseOrderByList() ([]OrderByClause, error) {
	var clauses []OrderByClause

	for {
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}

		clause := OrderByClause{Expr: expr}

		if p.curTokenIs(TokenAsc) {
			p.nextToken()
		} else if p.curTokenIs(TokenDesc) {
			clause.Desc = true
			p.nextToken()
		}

		clauses = append(clauses, clause)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return clauses, nil
}

// Operator precedence levels
const (
	precLowest  = 0
	precOr      = 1
	precAnd     = 2
	precNot     = 3
	precCompare = 4
	precAdd     = 5
	precMul     = 6
	precUnary   = 7
	precCast    = 8
)

// getPrecedence returns the precedence of the current token.
func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe, TokenLike, TokenIn, TokenBetween, TokenIs:
		return precCompare
	case TokenNot:
		// Only as the infix NOT of NOT IN / NOT LIKE / NOT BETWEEN.
		if p.peekTokenIs(TokenIn) || p.peekTokenIs(TokenLike) || p.peekTokenIs(TokenBetween) {
			return precCompare
		}
		return precLowest
	case TokenPlus, TokenMinus:
		return precAdd
	case TokenStar, TokenSlash:
		return precMul
	case TokenCast:
		return precCast
	default:
		return precLowest
	}
}

// parseExpression parses an expression with operator precedence.
func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}

	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseInfixExpression(left)
		if err != nil {
			return nil, err
		}
	}

	return left, nil
}

// parsePrefixExpression parses a prefix expression.
func (p *Parser) parsePrefixExpression() (Expression, error) {
	switch p.curToken.Type {
	case TokenIdent:
		return p.parseIdentifierOrFunction()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		val := p.curToken.Literal
		p.nextToken()
		return &Literal{Value: val}, nil
	case TokenParam:
		param := &ParamRef{Name: p.curToken.Literal}
		p.nextToken()
		return param, nil
	case TokenTrue, TokenFalse:
		val := p.curTokenIs(TokenTrue)
		p.nextToken()
		return &Literal{Value: val}, nil
	case TokenNull:
		p.nextToken()
		return &Literal{Value: nil}, nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenNot:
		return p.parseNotExpression()
	case TokenMinus:
		return p.parseUnaryMinus()
	case TokenStar:
		star := &StarExpr{}
		p.nextToken()
		return star, nil
	case TokenError:
		return nil, p.errorf("invalid token")
	default:
		return nil, p.errorf("unexpected token in expression")
	}
}

// parseIdentifierOrFunction parses an identifier or function call.
func (p *Parser) parseIdentifierOrFunction() (Expression, error) {
	name := p.curToken.Literal
	p.nextToken()

	// Check for table.column
	if p.curTokenIs(TokenDot) {
		p.nextToken()
		if p.curTokenIs(TokenStar) {
			star := &StarExpr{Table: name}
			p.nextToken()
			return star, nil
		}
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected column name after dot")
		}
		col := &ColumnRef{Table: name, Column: p.curToken.Literal}
		p.nextToken()
		return col, nil
	}

	if p.curTokenIs(TokenLParen) {
		return p.parseFunctionCall(name)
	}

	return &ColumnRef{Column: name}, nil
}

// parseFunctionCall parses a function call, aggregates included.
func (p *Parser) parseFunctionCall(name string) (Expression, error) {
	p.nextToken() // Skip (

	fn := &FunctionCall{Name: strings.ToLower(name)}
	if p.curTokenIs(TokenDistinct) {
		fn.Distinct = true
		p.nextToken()
	}

	if !p.curTokenIs(TokenRParen) {
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			fn.Args = append(fn.Args, arg)

			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after function arguments")
	}
	p.nextToken()

	return fn, nil
}

// parseNumber parses a numeric literal.
func (p *Parser) parseNumber() (Expression, error) {
	tok := p.curToken
	p.nextToken()

	if !strings.Contains(tok.Literal, ".") {
		val, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err == nil {
			return &Literal{Value: val}, nil
		}
	}

	val, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return nil, &ParseError{
			Message:  "invalid number",
			Position: tok.Pos,
			Token:    tok,
		}
	}
	return &Literal{Value: val}, nil
}

// parseGroupedExpression parses a parenthesized expression.
func (p *Parser) parseGroupedExpression() (Expression, error) {
	p.nextToken() // Skip (

	if p.curTokenIs(TokenSelect) {
		return nil, p.unsupported("subqueries are not supported")
	}

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected )")
	}
	p.nextToken()

	return &ParenExpr{Expr: expr}, nil
}

// parseNotExpression parses a NOT expression.
func (p *Parser) parseNotExpression() (Expression, error) {
	p.nextToken() // Skip NOT

	expr, err := p.parseExpression(precNot)
	if err != nil {
		return nil, err
	}

	return &UnaryExpr{Operator: "NOT", Operand: expr}, nil
}

// parseUnaryMinus parses a unary minus expression.
func (p *Parser) parseUnaryMinus() (Expression, error) {
	p.nextToken() // Skip -

	expr, err := p.parseExpression(precUnary)
	if err != nil {
		return nil, err
	}

	return &UnaryExpr{Operator: "-", Operand: expr}, nil
}

// parseInfixExpression parses an infix expression.
func (p *Parser) parseInfixExpression(left Expression) (Expression, error) {
	switch p.curToken.Type {
	case TokenAnd, TokenOr:
		return p.parseBinaryExpression(left)
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe:
		return p.parseBinaryExpression(left)
	case TokenPlus, TokenMinus, TokenStar, TokenSlash:
		return p.parseBinaryExpression(left)
	case TokenLike:
		return p.parseLikeExpression(left, false)
	case TokenIn:
		return p.parseInExpression(left, false)
	case TokenBetween:
		return p.parseBetweenExpression(left, false)
	case TokenIs:
		return p.parseIsExpression(left)
	case TokenNot:
		return p.parseNotInfix(left)
	case TokenCast:
		return p.parseCast(left)
	default:
		return left, nil
	}
}

// parseBinaryExpression parses a binary expression.
func (p *Parser) parseBinaryExpression(left Expression) (Expression, error) {
	op := p.curToken.Literal
	precedence := p.getPrecedence()
	p.nextToken()

	right, err := p.parseExpression(precedence)
	if err != nil {
		return nil, err
	}

	return &BinaryExpr{Left: left, Operator: op, Right: right}, nil
}

// parseCast parses the type name of expr::type.
func (p *Parser) parseCast(left Expression) (Expression, error) {
	p.nextToken() // Skip ::

	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected type name after ::")
	}
	typ := p.curToken.Literal
	p.nextToken()

	return &CastExpr{Expr: left, Type: typ}, nil
}

// parseLikeExpression parses a LIKE expression.
func (p *Parser) parseLikeExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip LIKE

	pattern, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	return &LikeExpr{Expr: left, Pattern: pattern, Not: not}, nil
}

// parseInExpression parses an IN expression.
func (p *Parser) parseInExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip IN

	if !p.curTokenIs(TokenLParen) {
		return nil, p.errorf("expected ( after IN")
	}
	p.nextToken()

	if p.curTokenIs(TokenSelect) {
		return nil, p.unsupported("subqueries are not supported")
	}

	var values []Expression
	for {
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		values = append(values, val)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after IN values")
	}
	p.nextToken()

	return &InExpr{Expr: left, Values: values, Not: not}, nil
}

// parseBetweenExpression parses a BETWEEN expression.
func (p *Parser) parseBetweenExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip BETWEEN

	low, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenAnd) {
		return nil, p.errorf("expected AND in BETWEEN expression")
	}
	p.nextToken()

	high, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
}

// parseIsExpression parses an IS NULL or IS NOT NULL expression.
func (p *Parser) parseIsExpression(left Expression) (Expression, error) {
	p.nextToken() // Skip IS

	not := false
	if p.curTokenIs(TokenNot) {
		not = true
		p.nextToken()
	}

	if !p.curTokenIs(TokenNull) {
		return nil, p.errorf("expected NULL after IS")
	}
	p.nextToken()

	return &IsNullExpr{Expr: left, Not: not}, nil
}

// parseNotInfix parses NOT IN, NOT LIKE, NOT BETWEEN.
func (p *Parser) parseNotInfix(left Expression) (Expression, error) {
	p.nextToken() // Skip NOT

	switch p.curToken.Type {
	case TokenIn:
		return p.parseInExpression(left, true)
	case TokenLike:
		return p.parseLikeExpression(left, true)
	case TokenBetween:
		return p.parseBetweenExpression(left, true)
	default:
		return nil, p.errorf("expected IN, LIKE, or BETWEEN after NOT")
	}
}
