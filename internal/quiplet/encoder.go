package quiplet

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrParse reports SQL text the encoder could not fingerprint. Callers must
// treat this as a rejection signal, never as an implicit allow.
var ErrParse = errors.New("unparseable query")

// Encode converts a SQL statement into its structural fingerprint. The result
// is a pure function of (query, schema): identical inputs always produce
// byte-identical vectors, which both training and inference rely on.
func Encode(query string, schema *Schema) (*Vector, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrParse)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrParse)
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrParse)
	}

	v := newVector(schema)
	v.Command = commandOf(tokens)

	switch v.Command {
	case CommandSelect:
		target := targetRelation(tokens, v.Command)
		encodeProjections(tokens, schema, target, v)
		encodeConditions(tokens, schema, target, v)
	case CommandInsert:
		// Every column is conceptually written, so the whole relation is
		// marked projected.
		if idx, ok := schema.RelationIndex(targetRelation(tokens, v.Command)); ok {
			v.RelProjected[idx] = 1
			for j := range v.AttrProjected[idx] {
				v.AttrProjected[idx][j] = 1
			}
		}
	case CommandUpdate:
		target := targetRelation(tokens, v.Command)
		if idx, ok := schema.RelationIndex(target); ok {
			v.RelSelected[idx] = 1
			v.RelProjected[idx] = 1
			for j := range v.AttrProjected[idx] {
				v.AttrProjected[idx][j] = 1
			}
		}
		encodeConditions(tokens, schema, target, v)
	case CommandDelete:
		target := targetRelation(tokens, v.Command)
		if idx, ok := schema.RelationIndex(target); ok {
			v.RelSelected[idx] = 1
		}
		encodeConditions(tokens, schema, target, v)
	}

	return v, nil
}

// CommandOf returns the command verb of a statement without building a full
// vector. Used by the transport layer's role/permission gate.
func CommandOf(query string) Command {
	return commandOf(tokenize(query))
}

func commandOf(tokens []token) Command {
	for _, tok := range tokens {
		if tok.kind != tokenIdent {
			continue
		}
		switch strings.ToUpper(tok.text) {
		case "SELECT":
			return CommandSelect
		case "INSERT":
			return CommandInsert
		case "UPDATE":
			return CommandUpdate
		case "DELETE":
			return CommandDelete
		case "CREATE":
			return CommandCreate
		case "DROP":
			return CommandDrop
		}
		return CommandOther
	}
	return CommandOther
}

// targetRelation finds the relation a statement operates on. For SELECT and
// DELETE that is the FROM target, with one level of subquery unwrapping
// (FROM (SELECT ... FROM rel) AS alias); for UPDATE the token after the verb;
// for INSERT the token after INTO.
func targetRelation(tokens []token, cmd Command) string {
	switch cmd {
	case CommandUpdate:
		for i, tok := range tokens {
			if tok.isKeyword("UPDATE") && i+1 < len(tokens) && tokens[i+1].kind == tokenIdent {
				return tokens[i+1].text
			}
		}
	case CommandInsert:
		for i, tok := range tokens {
			if tok.isKeyword("INTO") && i+1 < len(tokens) && tokens[i+1].kind == tokenIdent {
				return tokens[i+1].text
			}
		}
	default:
		depth := 0
		for i, tok := range tokens {
			switch {
			case tok.isSymbol("("):
				depth++
			case tok.isSymbol(")"):
				depth--
			case depth == 0 && tok.isKeyword("FROM") && i+1 < len(tokens):
				next := tokens[i+1]
				if next.kind == tokenIdent {
					return next.text
				}
				if next.isSymbol("(") {
					return subqueryRelation(tokens[i+2:])
				}
			}
		}
	}
	return ""
}

// subqueryRelation resolves FROM targets of the form (SELECT ... FROM rel).
func subqueryRelation(tokens []token) string {
	depth := 0
	for i, tok := range tokens {
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			if depth == 0 {
				return ""
			}
			depth--
		case depth == 0 && tok.isKeyword("FROM") && i+1 < len(tokens) && tokens[i+1].kind == tokenIdent:
			return tokens[i+1].text
		}
	}
	return ""
}

// encodeProjections sets projection and function-usage bits from the SELECT
// list. Bare column names resolve against the target relation; qualified
// rel.attr references resolve against the schema; a bare * marks the whole
// target relation.
func encodeProjections(tokens []token, schema *Schema, target string, v *Vector) {
	start := -1
	for i, tok := range tokens {
		if tok.isKeyword("SELECT") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return
	}

	depth := 0
	item := make([]token, 0, 4)
	flush := func() {
		encodeProjectionItem(item, schema, target, v)
		item = item[:0]
	}

	for i := start; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.isSymbol("("):
			depth++
			item = append(item, tok)
		case tok.isSymbol(")"):
			depth--
			item = append(item, tok)
		case depth == 0 && tok.isKeyword("FROM"):
			flush()
			return
		case depth == 0 && tok.isSymbol(","):
			flush()
		case depth == 0 && (tok.isKeyword("DISTINCT") || tok.isKeyword("ALL")):
			// qualifiers, not projections
		default:
			item = append(item, tok)
		}
	}
	flush()
}

func encodeProjectionItem(item []token, schema *Schema, target string, v *Vector) {
	if len(item) == 0 {
		return
	}

	head := item[0]

	// Aggregate or scalar function call: COUNT(email), NOW(), ...
	if head.kind == tokenIdent && len(item) > 1 && item[1].isSymbol("(") {
		if idx, ok := functionIndex(strings.ToUpper(head.text)); ok {
			v.FuncUsed[idx] = 1
		}
		return
	}

	// Wildcard projection covers the whole target relation.
	if head.isSymbol("*") {
		markRelationProjected(schema, target, v)
		return
	}

	if head.kind != tokenIdent {
		return
	}

	rel, attr := splitQualified(head.text, target)
	if attr == "*" {
		markRelationProjected(schema, rel, v)
		return
	}

	relIdx, ok := schema.RelationIndex(rel)
	if !ok {
		return
	}
	attrIdx, ok := schema.AttributeIndex(rel, attr)
	if !ok {
		return
	}
	v.RelProjected[relIdx] = 1
	v.AttrProjected[relIdx][attrIdx] = 1
}

func markRelationProjected(schema *Schema, rel string, v *Vector) {
	idx, ok := schema.RelationIndex(rel)
	if !ok {
		return
	}
	v.RelProjected[idx] = 1
	for j := range v.AttrProjected[idx] {
		v.AttrProjected[idx][j] = 1
	}
}

// conditionTerminators end the WHERE clause at depth zero.
var conditionTerminators = []string{"GROUP", "ORDER", "LIMIT", "HAVING", "RETURNING"}

// encodeConditions sets selection bits from the left-hand operand of each
// WHERE comparison.
func encodeConditions(tokens []token, schema *Schema, target string, v *Vector) {
	start := -1
	depth := 0
	for i, tok := range tokens {
		switch {
		case tok.isSymbol("("):
			depth++
		case tok.isSymbol(")"):
			depth--
		case depth == 0 && tok.isKeyword("WHERE"):
			start = i + 1
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return
	}

	clause := tokens[start:]
	depth = 0
	for i := 0; i < len(clause); i++ {
		tok := clause[i]
		switch {
		case tok.isSymbol("("):
			depth++
			continue
		case tok.isSymbol(")"):
			depth--
			continue
		}
		if depth == 0 && tok.kind == tokenIdent && isTerminator(tok.text) {
			break
		}
		if tok.kind != tokenIdent || i+1 >= len(clause) {
			continue
		}
		if !isComparator(clause[i+1]) {
			continue
		}

		rel, attr := splitQualified(tok.text, target)
		relIdx, ok := schema.RelationIndex(rel)
		if !ok {
			continue
		}
		attrIdx, ok := schema.AttributeIndex(rel, attr)
		if !ok {
			continue
		}
		v.RelSelected[relIdx] = 1
		v.AttrSelected[relIdx][attrIdx] = 1
	}
}

func isTerminator(word string) bool {
	upper := strings.ToUpper(word)
	for _, term := range conditionTerminators {
		if upper == term {
			return true
		}
	}
	return false
}

func isComparator(tok token) bool {
	if tok.kind == tokenSymbol {
		switch tok.text {
		case "=", "<", ">", "!":
			return true
		}
		return false
	}
	if tok.kind == tokenIdent {
		switch strings.ToUpper(tok.text) {
		case "LIKE", "IN", "BETWEEN", "IS":
			return true
		}
	}
	return false
}

// splitQualified resolves rel.attr references; bare attributes are attributed
// to the statement's target relation.
func splitQualified(field, target string) (rel, attr string) {
	if dot := strings.IndexByte(field, '.'); dot >= 0 {
		return field[:dot], field[dot+1:]
	}
	return target, field
}

// ---- tokenizer ----

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenSymbol
)

type token struct {
	kind tokenKind
	text string
}

func (t token) isKeyword(word string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, word)
}

func (t token) isSymbol(sym string) bool {
	return t.kind == tokenSymbol && t.text == sym
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// tokenize performs a light lexical scan sufficient for structural
// fingerprinting: identifiers (with dotted qualification), literals and
// single-character symbols. It is intentionally not a SQL parser.
func tokenize(query string) []token {
	runes := []rune(query)
	tokens := make([]token, 0, len(runes)/4)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			tokens = append(tokens, token{kind: tokenString, text: string(runes[i+1 : j])})
			i = j + 1
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			// dotted qualification joins into one token: rel.attr or t.*
			if j+1 < len(runes) && runes[j] == '.' && (isIdentRune(runes[j+1]) || runes[j+1] == '*') {
				j++
				if runes[j] == '*' {
					j++
				} else {
					for j < len(runes) && isIdentRune(runes[j]) {
						j++
					}
				}
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[i:j])})
			i = j
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[i:j])})
			i = j
		default:
			tokens = append(tokens, token{kind: tokenSymbol, text: string(r)})
			i++
		}
	}
	return tokens
}
