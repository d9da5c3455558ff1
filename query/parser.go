package query

import (
	"fmt"

	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/protocol"
)

// Parse lexes and parses one statement. Parse errors carry
// CodeParseError; an unrecognized statement head carries
// CodeUnknownStatement.
func Parse(src string) (Statement, error) {
	var toks, err = tokenize(src)
	if err != nil {
		return nil, err
	}
	var p = parser{toks: toks}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	if p.i != len(p.toks) {
		return nil, p.errHere("trailing input after statement")
	}
	return stmt, nil
}

type parser struct {
	toks   []token
	i      int
	params int
}

func (p *parser) peek() token {
	if p.i == len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.i]
}

func (p *parser) atKeyword(kw string) bool {
	var t = p.peek()
	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) eatKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.i++
		return true
	}
	return false
}

func (p *parser) eatSymbol(sym byte) bool {
	var t = p.peek()
	if t.kind == tokSymbol && t.sym == sym {
		p.i++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return p.errHere("expected '%s'", kw)
	}
	return nil
}

func (p *parser) expectSymbol(sym byte) error {
	if !p.eatSymbol(sym) {
		return p.errHere("expected '%c'", sym)
	}
	return nil
}

func (p *parser) expectIdent() (string, error) {
	var t = p.peek()
	if t.kind != tokIdent {
		return "", p.errHere("expected an identifier")
	}
	p.i++
	return t.text, nil
}

func (p *parser) errHere(format string, args ...interface{}) error {
	var msg = fmt.Sprintf(format, args...)
	if t := p.peek(); t.kind == tokEOF {
		msg += " at end of input"
	} else {
		msg += fmt.Sprintf(" at offset %d", t.pos)
	}
	return protocol.NewQueryError(protocol.CodeParseError, "%s", msg)
}

func (p *parser) statement() (Statement, error) {
	switch {
	case p.eatKeyword("create"):
		return p.create()
	case p.eatKeyword("alter"):
		return p.alter()
	case p.eatKeyword("drop"):
		return p.drop()
	case p.eatKeyword("insert"):
		return p.insert()
	case p.eatKeyword("select"):
		return p.selectStmt()
	case p.eatKeyword("update"):
		return p.update()
	case p.eatKeyword("delete"):
		return p.delete()
	case p.eatKeyword("truncate"):
		return p.truncate()
	case p.eatKeyword("use"):
		return p.use()
	case p.eatKeyword("inspect"):
		return p.inspect()
	case p.eatKeyword("sysctl"):
		return p.sysctl()
	}
	return nil, protocol.NewQueryError(protocol.CodeUnknownStatement,
		"unrecognized statement")
}

func (p *parser) create() (Statement, error) {
	switch {
	case p.eatKeyword("space"):
		var s = &CreateSpace{IfNotExists: p.ifNotExists()}
		var err error
		if s.Name, err = p.expectIdent(); err != nil {
			return nil, err
		}
		if p.eatKeyword("with") {
			if s.Props, err = p.dict(); err != nil {
				return nil, err
			}
		}
		return s, nil

	case p.eatKeyword("model"):
		var s = &CreateModel{IfNotExists: p.ifNotExists()}
		var err error
		if s.Entity, err = p.entity(); err != nil {
			return nil, err
		}
		if s.Fields, err = p.fieldDefs(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, p.errHere("expected 'space' or 'model'")
}

func (p *parser) alter() (Statement, error) {
	switch {
	case p.eatKeyword("space"):
		var s = &AlterSpace{}
		var err error
		if s.Name, err = p.expectIdent(); err != nil {
			return nil, err
		}
		if err = p.expectKeyword("with"); err != nil {
			return nil, err
		}
		if s.Props, err = p.dict(); err != nil {
			return nil, err
		}
		return s, nil

	case p.eatKeyword("model"):
		var e, err = p.entity()
		if err != nil {
			return nil, err
		}
		switch {
		case p.eatKeyword("add"):
			var fields []FieldDef
			if fields, err = p.fieldDefs(); err != nil {
				return nil, err
			}
			return &AlterModelAdd{Entity: e, Fields: fields}, nil
		case p.eatKeyword("remove"):
			var names []string
			if names, err = p.identList(); err != nil {
				return nil, err
			}
			return &AlterModelRemove{Entity: e, Fields: names}, nil
		case p.eatKeyword("update"):
			var fields []FieldDef
			if fields, err = p.fieldDefs(); err != nil {
				return nil, err
			}
			return &AlterModelUpdate{Entity: e, Fields: fields}, nil
		}
		return nil, p.errHere("expected 'add', 'remove' or 'update'")
	}
	return nil, p.errHere("expected 'space' or 'model'")
}

func (p *parser) drop() (Statement, error) {
	switch {
	case p.eatKeyword("space"):
		var s = &DropSpace{IfExists: p.ifExists()}
		var err error
		if s.Name, err = p.expectIdent(); err != nil {
			return nil, err
		}
		s.Force = p.eatKeyword("force")
		return s, nil

	case p.eatKeyword("model"):
		var s = &DropModel{IfExists: p.ifExists()}
		var err error
		if s.Entity, err = p.entity(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, p.errHere("expected 'space' or 'model'")
}

func (p *parser) insert() (Statement, error) {
	if err := p.expectKeyword("into"); err != nil {
		return nil, err
	}
	var s = &Insert{}
	var err error
	if s.Entity, err = p.entity(); err != nil {
		return nil, err
	}
	if err = p.expectSymbol('('); err != nil {
		return nil, err
	}
	for {
		var v Expr
		if v, err = p.expr(); err != nil {
			return nil, err
		}
		s.Values = append(s.Values, v)
		if p.eatSymbol(',') {
			continue
		}
		if err = p.expectSymbol(')'); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (p *parser) selectStmt() (Statement, error) {
	if p.eatKeyword("all") {
		var s = &SelectAll{}
		var err error
		if err = p.expectSymbol('*'); err != nil {
			return nil, err
		}
		if err = p.expectKeyword("from"); err != nil {
			return nil, err
		}
		if s.Entity, err = p.entity(); err != nil {
			return nil, err
		}
		if p.eatKeyword("limit") {
			var t = p.peek()
			if t.kind != tokLiteral || t.lit.Kind != protocol.KindUint64 {
				return nil, p.errHere("expected a limit count")
			}
			p.i++
			s.Limit = t.lit.U
		}
		return s, nil
	}

	var s = &Select{}
	var err error
	if err = p.expectSymbol('*'); err != nil {
		return nil, err
	}
	if err = p.expectKeyword("from"); err != nil {
		return nil, err
	}
	if s.Entity, err = p.entity(); err != nil {
		return nil, err
	}
	if s.KeyField, s.Key, err = p.whereClause(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) update() (Statement, error) {
	var s = &Update{}
	var err error
	if s.Entity, err = p.entity(); err != nil {
		return nil, err
	}
	if err = p.expectKeyword("set"); err != nil {
		return nil, err
	}
	for {
		var clause SetClause
		if clause.Field, err = p.expectIdent(); err != nil {
			return nil, err
		}
		if err = p.expectSymbol('='); err != nil {
			return nil, err
		}
		if clause.Value, err = p.expr(); err != nil {
			return nil, err
		}
		s.Sets = append(s.Sets, clause)
		if !p.eatSymbol(',') {
			break
		}
	}
	if s.KeyField, s.Key, err = p.whereClause(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) delete() (Statement, error) {
	if err := p.expectKeyword("from"); err != nil {
		return nil, err
	}
	var s = &Delete{}
	var err error
	if s.Entity, err = p.entity(); err != nil {
		return nil, err
	}
	if s.KeyField, s.Key, err = p.whereClause(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) truncate() (Statement, error) {
	if err := p.expectKeyword("model"); err != nil {
		return nil, err
	}
	var e, err = p.entity()
	if err != nil {
		return nil, err
	}
	return &Truncate{Entity: e}, nil
}

func (p *parser) use() (Statement, error) {
	if p.eatKeyword("null") {
		return &Use{}, nil
	}
	var name, err = p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &Use{Space: name}, nil
}

func (p *parser) inspect() (Statement, error) {
	switch {
	case p.eatKeyword("global"):
		return &InspectGlobal{}, nil
	case p.eatKeyword("space"):
		var name, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &InspectSpace{Name: name}, nil
	case p.eatKeyword("model"):
		var e, err = p.entity()
		if err != nil {
			return nil, err
		}
		return &InspectModel{Entity: e}, nil
	}
	return nil, p.errHere("expected 'global', 'space' or 'model'")
}

func (p *parser) sysctl() (Statement, error) {
	switch {
	case p.eatKeyword("create"):
		var name, pw, err = p.userWithPassword()
		if err != nil {
			return nil, err
		}
		return &SysctlCreateUser{Name: name, Password: pw}, nil

	case p.eatKeyword("alter"):
		var name, pw, err = p.userWithPassword()
		if err != nil {
			return nil, err
		}
		return &SysctlAlterUser{Name: name, Password: pw}, nil

	case p.eatKeyword("drop"):
		if err := p.expectKeyword("user"); err != nil {
			return nil, err
		}
		var name, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &SysctlDropUser{Name: name}, nil

	case p.eatKeyword("report"):
		if err := p.expectKeyword("status"); err != nil {
			return nil, err
		}
		return &SysctlReport{}, nil
	}
	return nil, p.errHere("expected 'create', 'alter', 'drop' or 'report'")
}

// userWithPassword parses `USER <name> WITH { password: <expr> }`,
// the tail shared by sysctl create and alter.
func (p *parser) userWithPassword() (string, Expr, error) {
	if err := p.expectKeyword("user"); err != nil {
		return "", Expr{}, err
	}
	var name, err = p.expectIdent()
	if err != nil {
		return "", Expr{}, err
	}
	if err = p.expectKeyword("with"); err != nil {
		return "", Expr{}, err
	}
	var props map[string]Expr
	if props, err = p.dict(); err != nil {
		return "", Expr{}, err
	}
	var pw, ok = props["password"]
	if !ok || len(props) != 1 {
		return "", Expr{}, parseErrf("user options must be exactly { password }")
	}
	return name, pw, nil
}

func (p *parser) ifNotExists() bool {
	var mark = p.i
	if p.eatKeyword("if") && p.eatKeyword("not") && p.eatKeyword("exists") {
		return true
	}
	p.i = mark
	return false
}

func (p *parser) ifExists() bool {
	var mark = p.i
	if p.eatKeyword("if") && p.eatKeyword("exists") {
		return true
	}
	p.i = mark
	return false
}

// entity parses `model` or `space.model`.
func (p *parser) entity() (Entity, error) {
	var first, err = p.expectIdent()
	if err != nil {
		return Entity{}, err
	}
	if p.eatSymbol('.') {
		var second string
		if second, err = p.expectIdent(); err != nil {
			return Entity{}, err
		}
		return Entity{Space: first, Model: second}, nil
	}
	return Entity{Model: first}, nil
}

// expr parses a literal, null, or `?` parameter placeholder.
// Placeholder ordinals number left to right across the statement.
func (p *parser) expr() (Expr, error) {
	var t = p.peek()
	switch {
	case t.kind == tokLiteral:
		p.i++
		return Expr{Lit: t.lit}, nil
	case t.kind == tokKeyword && t.text == "null":
		p.i++
		return Expr{Lit: protocol.Null()}, nil
	case t.kind == tokSymbol && t.sym == '?':
		p.i++
		var e = Expr{Param: true, N: p.params}
		p.params++
		return e, nil
	}
	return Expr{}, p.errHere("expected a value")
}

// dict parses `{ key: expr, ... }`. An empty dict is allowed.
func (p *parser) dict() (map[string]Expr, error) {
	if err := p.expectSymbol('{'); err != nil {
		return nil, err
	}
	var out = make(map[string]Expr)
	if p.eatSymbol('}') {
		return out, nil
	}
	for {
		var key, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, dup := out[key]; dup {
			return nil, parseErrf("duplicate key %s", key)
		}
		if err = p.expectSymbol(':'); err != nil {
			return nil, err
		}
		if out[key], err = p.expr(); err != nil {
			return nil, err
		}
		if p.eatSymbol(',') {
			continue
		}
		if err = p.expectSymbol('}'); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// fieldDefs parses `( [primary] [null] name: type, ... )`.
func (p *parser) fieldDefs() ([]FieldDef, error) {
	if err := p.expectSymbol('('); err != nil {
		return nil, err
	}
	var out []FieldDef
	for {
		var f FieldDef
		var err error
		f.Primary = p.eatKeyword("primary")
		f.Nullable = p.eatKeyword("null")
		if f.Name, err = p.expectIdent(); err != nil {
			return nil, err
		}
		if err = p.expectSymbol(':'); err != nil {
			return nil, err
		}
		if f.Type, err = p.fieldType(); err != nil {
			return nil, err
		}
		out = append(out, f)
		if p.eatSymbol(',') {
			continue
		}
		if err = p.expectSymbol(')'); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// fieldType parses a scalar type name or `list { type: T }`.
func (p *parser) fieldType() (catalog.Type, error) {
	if p.eatKeyword("list") {
		if err := p.expectSymbol('{'); err != nil {
			return catalog.Type{}, err
		}
		if err := p.expectKeyword("type"); err != nil {
			return catalog.Type{}, err
		}
		if err := p.expectSymbol(':'); err != nil {
			return catalog.Type{}, err
		}
		var elem, err = p.fieldType()
		if err != nil {
			return catalog.Type{}, err
		}
		if err = p.expectSymbol('}'); err != nil {
			return catalog.Type{}, err
		}
		return catalog.ListOf(elem), nil
	}

	var name, err = p.expectIdent()
	if err != nil {
		return catalog.Type{}, err
	}
	return catalog.ParseType(name)
}

// identList parses `( name, ... )`.
func (p *parser) identList() ([]string, error) {
	if err := p.expectSymbol('('); err != nil {
		return nil, err
	}
	var out []string
	for {
		var name, err = p.expectIdent()
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if p.eatSymbol(',') {
			continue
		}
		if err = p.expectSymbol(')'); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// whereClause parses `WHERE field = expr`.
func (p *parser) whereClause() (string, Expr, error) {
	if err := p.expectKeyword("where"); err != nil {
		return "", Expr{}, err
	}
	var field, err = p.expectIdent()
	if err != nil {
		return "", Expr{}, err
	}
	if err = p.expectSymbol('='); err != nil {
		return "", Expr{}, err
	}
	var key Expr
	if key, err = p.expr(); err != nil {
		return "", Expr{}, err
	}
	return field, key, nil
}
