// Package sqlwrite classifies raw SQL write statements into structured
// row-level operations.
//
// Classification is intentionally a small pattern matcher over a closed
// set of statement shapes, not a SQL parser: single-row INSERT with an
// explicit column list, UPDATE with a primary-key equality in its WHERE
// clause, and DELETE likewise. Anything else — bulk statements, missing
// WHERE, OR conditions, subqueries in the key position — is
// Unclassifiable: the write still executes locally but is not replicated.
//
// The package also owns the payload rewrites applied before a statement
// ships to peers: placeholder resolution (a payload must be executable
// with no bind arguments), RETURNING-clause stripping, and the
// insert-or-replace rewrite used on the apply path.
package sqlwrite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/driftdb/driftdb/internal/op"
)

// ErrUnclassifiable marks a write that cannot be mapped to exactly one
// table and row. Such writes execute locally but are not replicated.
var ErrUnclassifiable = errors.New("statement not classifiable as a single-row write")

// Statement is the structured form of a classified write.
type Statement struct {
	Kind       op.WriteKind
	Table      string
	PrimaryKey string
	// Columns lists the column names named by an INSERT or the SET
	// targets of an UPDATE. Empty for DELETE.
	Columns []string
}

// Peek extracts just the statement kind and target table, without
// requiring table metadata. The interceptor uses it to decide whether the
// table is registered before paying for full classification.
func Peek(sqlText string) (op.WriteKind, string, bool) {
	tokens := tokenize(sqlText)
	kind, idx, ok := statementKind(tokens)
	if !ok || idx >= len(tokens) || tokens[idx].typ != tokenIdent {
		return 0, "", false
	}
	return kind, tokens[idx].text, true
}

// Classify maps a write statement plus its bind arguments to a single
// table and row. pkColumn is the registered primary-key column for the
// target table. Returns ErrUnclassifiable (wrapped) when the statement
// does not have a recognizable single-row shape.
func Classify(sqlText string, args []any, pkColumn string) (Statement, error) {
	tokens := tokenize(sqlText)
	kind, idx, ok := statementKind(tokens)
	if !ok {
		return Statement{}, fmt.Errorf("%w: unsupported statement", ErrUnclassifiable)
	}
	if idx >= len(tokens) || tokens[idx].typ != tokenIdent {
		return Statement{}, fmt.Errorf("%w: missing table name", ErrUnclassifiable)
	}
	table := tokens[idx].text

	switch kind {
	case op.KindInsert:
		return classifyInsert(tokens[idx+1:], args, table, pkColumn)
	case op.KindUpdate:
		return classifyWhereKeyed(tokens[idx+1:], args, table, pkColumn, op.KindUpdate)
	default:
		return classifyWhereKeyed(tokens[idx+1:], args, table, pkColumn, op.KindDelete)
	}
}

// statementKind identifies the write kind and returns the token index of
// the table name.
func statementKind(tokens []token) (op.WriteKind, int, bool) {
	if len(tokens) == 0 {
		return 0, 0, false
	}
	switch {
	case tokens[0].isKeyword("insert"), tokens[0].isKeyword("replace"):
		// INSERT [OR ROLLBACK|ABORT|REPLACE|FAIL|IGNORE] INTO <table>
		i := 1
		if len(tokens) > i && tokens[i].isKeyword("or") {
			i += 2
		}
		if len(tokens) > i && tokens[i].isKeyword("into") {
			return op.KindInsert, i + 1, true
		}
		return 0, 0, false
	case tokens[0].isKeyword("update"):
		// UPDATE [OR ...] <table> SET ...
		i := 1
		if len(tokens) > i && tokens[i].isKeyword("or") {
			i += 2
		}
		if len(tokens) > i {
			return op.KindUpdate, i, true
		}
		return 0, 0, false
	case tokens[0].isKeyword("delete"):
		if len(tokens) > 2 && tokens[1].isKeyword("from") {
			return op.KindDelete, 2, true
		}
		return 0, 0, false
	default:
		return 0, 0, false
	}
}

// classifyInsert handles INSERT INTO t (cols...) VALUES (vals...).
// Requires an explicit column list naming the primary key and exactly one
// VALUES row. Multi-row inserts and INSERT ... SELECT are unclassifiable.
func classifyInsert(rest []token, args []any, table, pkColumn string) (Statement, error) {
	cols, after, err := parenIdentList(rest)
	if err != nil {
		return Statement{}, err
	}

	pkIdx := -1
	for i, c := range cols {
		if strings.EqualFold(c, pkColumn) {
			pkIdx = i
			break
		}
	}
	if pkIdx < 0 {
		return Statement{}, fmt.Errorf("%w: column list does not name primary key %q", ErrUnclassifiable, pkColumn)
	}

	if len(after) == 0 || !after[0].isKeyword("values") {
		return Statement{}, fmt.Errorf("%w: expected VALUES clause", ErrUnclassifiable)
	}
	vals, trailing, err := parenValueList(after[1:])
	if err != nil {
		return Statement{}, err
	}
	if len(vals) != len(cols) {
		return Statement{}, fmt.Errorf("%w: %d columns but %d values", ErrUnclassifiable, len(cols), len(vals))
	}
	// A second parenthesized row makes this a bulk insert.
	if len(trailing) > 0 && trailing[0].typ == tokenPunct && trailing[0].text == "," {
		return Statement{}, fmt.Errorf("%w: multi-row insert", ErrUnclassifiable)
	}

	pk, err := valueText(vals[pkIdx], args)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Kind: op.KindInsert, Table: table, PrimaryKey: pk, Columns: cols}, nil
}

// classifyWhereKeyed handles UPDATE ... WHERE pk = v and
// DELETE FROM ... WHERE pk = v. Extra AND conditions are allowed; an OR
// anywhere in the WHERE clause, or a missing primary-key equality, makes
// the statement unclassifiable (it may touch more than one row).
func classifyWhereKeyed(rest []token, args []any, table, pkColumn string, kind op.WriteKind) (Statement, error) {
	whereIdx := -1
	for i, t := range rest {
		if t.isKeyword("where") {
			whereIdx = i
			break
		}
	}
	if whereIdx < 0 {
		return Statement{}, fmt.Errorf("%w: %s without WHERE clause", ErrUnclassifiable, kind)
	}
	where := rest[whereIdx+1:]

	var columns []string
	if kind == op.KindUpdate {
		columns = setTargets(rest[:whereIdx])
	}

	var pkVal *token
	for i := 0; i < len(where); i++ {
		t := where[i]
		if t.isKeyword("or") {
			return Statement{}, fmt.Errorf("%w: OR condition in WHERE clause", ErrUnclassifiable)
		}
		if t.typ == tokenIdent && strings.EqualFold(t.text, pkColumn) &&
			i+1 < len(where) &&
			where[i+1].typ == tokenPunct && where[i+1].text == "=" {
			if i+2 >= len(where) {
				return Statement{}, fmt.Errorf("%w: dangling primary-key equality", ErrUnclassifiable)
			}
			v := where[i+2]
			pkVal = &v
			i += 2
		}
	}
	if pkVal == nil {
		return Statement{}, fmt.Errorf("%w: no primary-key equality on %q", ErrUnclassifiable, pkColumn)
	}

	pk, err := valueText(*pkVal, args)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Kind: kind, Table: table, PrimaryKey: pk, Columns: columns}, nil
}

// setTargets collects the assigned column names from an UPDATE's SET
// clause tokens (everything between SET and WHERE).
func setTargets(tokens []token) []string {
	var cols []string
	inSet := false
	expectCol := false
	depth := 0
	for i, t := range tokens {
		if t.isKeyword("set") && depth == 0 && !inSet {
			inSet = true
			expectCol = true
			continue
		}
		if !inSet {
			continue
		}
		switch {
		case t.typ == tokenPunct && t.text == "(":
			depth++
		case t.typ == tokenPunct && t.text == ")":
			depth--
		case t.typ == tokenPunct && t.text == "," && depth == 0:
			expectCol = true
		case expectCol && t.typ == tokenIdent:
			if i+1 < len(tokens) && tokens[i+1].typ == tokenPunct && tokens[i+1].text == "=" {
				cols = append(cols, t.text)
			}
			expectCol = false
		}
	}
	return cols
}

// parenIdentList parses "( ident , ident ... )" and returns the names
// plus the tokens following the closing paren.
func parenIdentList(tokens []token) ([]string, []token, error) {
	if len(tokens) == 0 || tokens[0].typ != tokenPunct || tokens[0].text != "(" {
		return nil, nil, fmt.Errorf("%w: insert without explicit column list", ErrUnclassifiable)
	}
	var names []string
	i := 1
	for i < len(tokens) {
		t := tokens[i]
		switch {
		case t.typ == tokenIdent:
			names = append(names, t.text)
			i++
		case t.typ == tokenPunct && t.text == ",":
			i++
		case t.typ == tokenPunct && t.text == ")":
			return names, tokens[i+1:], nil
		default:
			return nil, nil, fmt.Errorf("%w: unexpected token %q in column list", ErrUnclassifiable, t.text)
		}
	}
	return nil, nil, fmt.Errorf("%w: unterminated column list", ErrUnclassifiable)
}

// parenValueList parses one "( value , value ... )" group of scalar
// values. Nested parens (subqueries, function calls) are unclassifiable.
func parenValueList(tokens []token) ([]token, []token, error) {
	if len(tokens) == 0 || tokens[0].typ != tokenPunct || tokens[0].text != "(" {
		return nil, nil, fmt.Errorf("%w: expected parenthesized values", ErrUnclassifiable)
	}
	var vals []token
	i := 1
	for i < len(tokens) {
		t := tokens[i]
		switch {
		case t.typ == tokenString || t.typ == tokenNumber || t.typ == tokenPlaceholder:
			vals = append(vals, t)
			i++
		case t.typ == tokenIdent && (t.isKeyword("null") || t.isKeyword("true") || t.isKeyword("false")):
			vals = append(vals, t)
			i++
		case t.typ == tokenPunct && t.text == ",":
			i++
		case t.typ == tokenPunct && t.text == ")":
			return vals, tokens[i+1:], nil
		default:
			return nil, nil, fmt.Errorf("%w: non-scalar value %q", ErrUnclassifiable, t.text)
		}
	}
	return nil, nil, fmt.Errorf("%w: unterminated value list", ErrUnclassifiable)
}

// valueText renders a scalar value token as the row-key string. For a
// placeholder, the corresponding bind argument is rendered instead.
func valueText(t token, args []any) (string, error) {
	switch t.typ {
	case tokenString, tokenNumber, tokenIdent:
		return t.text, nil
	case tokenPlaceholder:
		if t.placeholderIdx >= len(args) {
			return "", fmt.Errorf("%w: placeholder %d has no bind argument", ErrUnclassifiable, t.placeholderIdx)
		}
		return fmt.Sprintf("%v", args[t.placeholderIdx]), nil
	default:
		return "", fmt.Errorf("%w: unsupported value token %q", ErrUnclassifiable, t.text)
	}
}
