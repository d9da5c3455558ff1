package query

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rizalgowandy/skytable/auth"
	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/metrics"
	"github.com/rizalgowandy/skytable/protocol"
	"github.com/rizalgowandy/skytable/txn"
)

const (
	planCacheSize = 1024
	planCacheTTL  = time.Hour
)

// Session is the per-connection execution context: the authenticated
// user, and the space selected with USE (empty if none).
type Session struct {
	User  string
	Space string
}

// Executor parses query text and runs the resulting statements against
// an engine Coordinator. A single Executor serves every connection of
// the process; per-connection state lives in the Session.
type Executor struct {
	co       *txn.Coordinator
	plans    *planCache
	version  string
	settings map[string]string
	boot     time.Time
}

// NewExecutor returns an Executor of the Coordinator. |version| and
// |settings| surface through INSPECT GLOBAL.
func NewExecutor(co *txn.Coordinator, version string, settings map[string]string) *Executor {
	return &Executor{
		co:       co,
		plans:    newPlanCache(planCacheSize, planCacheTTL),
		version:  version,
		settings: settings,
		boot:     timeNow(),
	}
}

// Execute runs one query on behalf of the Session, binding |params| to
// `?` placeholders in statement order. Failures of any kind are
// returned as an error Response; Execute never panics the connection.
//
// Execute intentionally takes no Context: once a statement reaches the
// commit path its durability wait must not be abandoned midway, and
// every other phase is brief.
func (e *Executor) Execute(sess *Session, text string, params []protocol.Value) protocol.Response {
	var stmt, err = e.plan(text)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("invalid", "error").Inc()
		return protocol.ErrorOf(err)
	}

	var resp protocol.Response
	if resp, err = e.exec(sess, stmt, params); err != nil {
		metrics.QueriesTotal.WithLabelValues(stmt.kind(), "error").Inc()
		return protocol.ErrorOf(err)
	}
	metrics.QueriesTotal.WithLabelValues(stmt.kind(), "ok").Inc()
	return resp
}

func (e *Executor) plan(text string) (Statement, error) {
	if stmt, ok := e.plans.get(text); ok {
		return stmt, nil
	}
	var stmt, err = Parse(text)
	if err != nil {
		return nil, err
	}
	e.plans.add(text, stmt)
	return stmt, nil
}

func (e *Executor) exec(sess *Session, stmt Statement, params []protocol.Value) (protocol.Response, error) {
	switch s := stmt.(type) {
	case *CreateSpace:
		return e.createSpace(s, params)
	case *AlterSpace:
		return e.alterSpace(s, params)
	case *DropSpace:
		return e.dropSpace(s)
	case *CreateModel:
		return e.createModel(sess, s)
	case *AlterModelAdd:
		return e.alterModel(sess, s.Entity, func(ent Entity) (journal.Record, error) {
			var fields, err = alterFields(s.Fields)
			if err != nil {
				return journal.Record{}, err
			}
			return e.co.Catalog().PlanAlterModelAdd(ent.Space, ent.Model, fields)
		})
	case *AlterModelRemove:
		return e.alterModel(sess, s.Entity, func(ent Entity) (journal.Record, error) {
			return e.co.Catalog().PlanAlterModelRemove(ent.Space, ent.Model, s.Fields)
		})
	case *AlterModelUpdate:
		return e.alterModel(sess, s.Entity, func(ent Entity) (journal.Record, error) {
			var fields, err = alterFields(s.Fields)
			if err != nil {
				return journal.Record{}, err
			}
			return e.co.Catalog().PlanAlterModelUpdate(ent.Space, ent.Model, fields)
		})
	case *DropModel:
		return e.dropModel(sess, s)
	case *Insert:
		return e.insert(sess, s, params)
	case *Select:
		return e.selectRow(sess, s, params)
	case *SelectAll:
		return e.selectAll(sess, s)
	case *Update:
		return e.update(sess, s, params)
	case *Delete:
		return e.deleteRow(sess, s, params)
	case *Truncate:
		return e.truncate(sess, s)
	case *Use:
		return e.use(sess, s)
	case *InspectGlobal:
		return e.inspectGlobal()
	case *InspectSpace:
		return e.inspectSpace(s)
	case *InspectModel:
		return e.inspectModel(sess, s)
	case *SysctlCreateUser:
		return e.sysctlUser(sess, s.Name, s.Password, params, e.co.Catalog().PlanCreateUser)
	case *SysctlAlterUser:
		return e.sysctlUser(sess, s.Name, s.Password, params, e.co.Catalog().PlanAlterUser)
	case *SysctlDropUser:
		return e.sysctlDropUser(sess, s)
	case *SysctlReport:
		return e.sysctlReport(sess)
	}
	return protocol.Response{}, errors.Errorf("unhandled statement %#v", stmt)
}

func (e *Executor) createSpace(s *CreateSpace, params []protocol.Value) (protocol.Response, error) {
	var props, err = bindProps(s.Props, params)
	if err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DDL(s.Name)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = e.co.Catalog().PlanCreateSpace(s.Name, props); err != nil {
		if s.IfNotExists && codeIs(err, protocol.CodeSpaceExists) {
			return protocol.Empty(), nil
		}
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) alterSpace(s *AlterSpace, params []protocol.Value) (protocol.Response, error) {
	var props, err = bindProps(s.Props, params)
	if err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DDL(s.Name)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = e.co.Catalog().PlanAlterSpace(s.Name, props); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) dropSpace(s *DropSpace) (protocol.Response, error) {
	var tx, err = e.co.Begin(txn.DDL(s.Name))
	if err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = e.co.Catalog().PlanDropSpace(s.Name, s.Force); err != nil {
		if s.IfExists && codeIs(err, protocol.CodeSpaceNotFound) {
			return protocol.Empty(), nil
		}
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) createModel(sess *Session, s *CreateModel) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, s.Entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var fields []catalog.Field
	var pk int
	if fields, pk, err = modelSchema(s.Fields); err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DDL(ent.Space)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, _, err = e.co.Catalog().PlanCreateModel(ent.Space, ent.Model, fields, pk); err != nil {
		if s.IfNotExists && codeIs(err, protocol.CodeModelExists) {
			return protocol.Empty(), nil
		}
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

// alterModel runs a schema change planned by |plan| under a scope which
// quiesces writers of the model.
func (e *Executor) alterModel(sess *Session, entity Entity, plan func(Entity) (journal.Record, error)) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var m *catalog.Model
	if m, err = e.co.Catalog().LookupModel(ent.Space, ent.Model); err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DDLModel(ent.Space, m)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = plan(ent); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) dropModel(sess *Session, s *DropModel) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, s.Entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var m *catalog.Model
	if m, err = e.co.Catalog().LookupModel(ent.Space, ent.Model); err != nil {
		if s.IfExists && codeIs(err, protocol.CodeModelNotFound) {
			return protocol.Empty(), nil
		}
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DDLModel(ent.Space, m)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, _, err = e.co.Catalog().PlanDropModel(ent.Space, ent.Model); err != nil {
		if s.IfExists && codeIs(err, protocol.CodeModelNotFound) {
			return protocol.Empty(), nil
		}
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) insert(sess *Session, s *Insert, params []protocol.Value) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, s.Entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var row []protocol.Value
	if row, err = bindAll(s.Values, params); err != nil {
		return protocol.Response{}, err
	}
	var m *catalog.Model
	if m, err = e.co.Catalog().LookupModel(ent.Space, ent.Model); err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DML(m)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = m.PlanInsert(row); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) selectRow(sess *Session, s *Select, params []protocol.Value) (protocol.Response, error) {
	var m, err = e.lookupKeyed(sess, s.Entity, s.KeyField)
	if err != nil {
		return protocol.Response{}, err
	}
	var key protocol.Value
	if key, err = bind(s.Key, params); err != nil {
		return protocol.Response{}, err
	}
	var row []protocol.Value
	if row, err = m.Get(key); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Row(row...), nil
}

func (e *Executor) selectAll(sess *Session, s *SelectAll) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, s.Entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var m *catalog.Model
	if m, err = e.co.Catalog().LookupModel(ent.Space, ent.Model); err != nil {
		return protocol.Response{}, err
	}
	return protocol.MultiRow(m.Scan(int(s.Limit))...), nil
}

func (e *Executor) update(sess *Session, s *Update, params []protocol.Value) (protocol.Response, error) {
	var m, err = e.lookupKeyed(sess, s.Entity, s.KeyField)
	if err != nil {
		return protocol.Response{}, err
	}
	var key protocol.Value
	if key, err = bind(s.Key, params); err != nil {
		return protocol.Response{}, err
	}
	var sets = make([]catalog.Assignment, len(s.Sets))
	for i, clause := range s.Sets {
		var v protocol.Value
		if v, err = bind(clause.Value, params); err != nil {
			return protocol.Response{}, err
		}
		sets[i] = catalog.Assignment{Field: clause.Field, Value: v}
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DML(m)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = m.PlanUpdate(key, sets); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) deleteRow(sess *Session, s *Delete, params []protocol.Value) (protocol.Response, error) {
	var m, err = e.lookupKeyed(sess, s.Entity, s.KeyField)
	if err != nil {
		return protocol.Response{}, err
	}
	var key protocol.Value
	if key, err = bind(s.Key, params); err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DML(m)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = m.PlanDelete(key); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) truncate(sess *Session, s *Truncate) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, s.Entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var m *catalog.Model
	if m, err = e.co.Catalog().LookupModel(ent.Space, ent.Model); err != nil {
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.DML(m)); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	tx.Stage(m.PlanTruncate())
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) use(sess *Session, s *Use) (protocol.Response, error) {
	if s.Space == "" {
		sess.Space = ""
		return protocol.Empty(), nil
	}
	if _, err := e.co.Catalog().LookupSpace(s.Space); err != nil {
		return protocol.Response{}, err
	}
	sess.Space = s.Space
	return protocol.Empty(), nil
}

func (e *Executor) inspectGlobal() (protocol.Response, error) {
	var report, err = e.co.Catalog().InspectGlobal(catalog.GlobalFacts{
		Version:  e.version,
		Uptime:   time.Since(e.boot),
		Settings: e.settings,
	})
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Scalar(protocol.String(report)), nil
}

func (e *Executor) inspectSpace(s *InspectSpace) (protocol.Response, error) {
	var report, err = e.co.Catalog().InspectSpace(s.Name)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Scalar(protocol.String(report)), nil
}

func (e *Executor) inspectModel(sess *Session, s *InspectModel) (protocol.Response, error) {
	var ent, err = e.resolveEntity(sess, s.Entity)
	if err != nil {
		return protocol.Response{}, err
	}
	var report string
	if report, err = e.co.Catalog().InspectModel(ent.Space, ent.Model); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Scalar(protocol.String(report)), nil
}

// sysctlUser services SYSCTL CREATE USER and SYSCTL ALTER USER, which
// differ only in the catalog planner applied to the hashed credential.
func (e *Executor) sysctlUser(sess *Session, name string, password Expr, params []protocol.Value,
	plan func(string, []byte) (journal.Record, error)) (protocol.Response, error) {

	if err := requireRoot(sess); err != nil {
		return protocol.Response{}, err
	}
	var pw, err = bind(password, params)
	if err != nil {
		return protocol.Response{}, err
	}
	if pw.Kind != protocol.KindString {
		return protocol.Response{}, protocol.NewQueryError(protocol.CodeTypeMismatch,
			"password must be a string")
	}
	var hash []byte
	if hash, err = auth.HashPassword(pw.Str); err != nil {
		if errors.Is(err, auth.ErrBadPassword) {
			return protocol.Response{}, protocol.NewQueryError(protocol.CodeTypeMismatch,
				"passwords must be 1 to %d bytes", auth.MaxPasswordLen)
		}
		return protocol.Response{}, err
	}
	var tx *txn.Txn
	if tx, err = e.co.Begin(txn.System()); err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = plan(name, hash); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

func (e *Executor) sysctlDropUser(sess *Session, s *SysctlDropUser) (protocol.Response, error) {
	if err := requireRoot(sess); err != nil {
		return protocol.Response{}, err
	}
	var tx, err = e.co.Begin(txn.System())
	if err != nil {
		return protocol.Response{}, err
	}
	defer tx.Abort()

	var rec journal.Record
	if rec, err = e.co.Catalog().PlanDropUser(s.Name); err != nil {
		return protocol.Response{}, err
	}
	tx.Stage(rec)
	if err = tx.Commit(); err != nil {
		return protocol.Response{}, err
	}
	return protocol.Empty(), nil
}

// sysctlReport answers SYSCTL REPORT STATUS: an empty response if the
// engine is healthy, or the read-only error code if recovery degraded it.
func (e *Executor) sysctlReport(sess *Session) (protocol.Response, error) {
	if err := requireRoot(sess); err != nil {
		return protocol.Response{}, err
	}
	if e.co.ReadOnly() {
		return protocol.ErrorResponse(protocol.CodeReadOnly), nil
	}
	return protocol.Empty(), nil
}

// resolveEntity fills an omitted space qualifier from the session.
func (e *Executor) resolveEntity(sess *Session, ent Entity) (Entity, error) {
	if ent.Space != "" {
		return ent, nil
	}
	if sess.Space == "" {
		return Entity{}, protocol.NewQueryError(protocol.CodeNoCurrentSpace,
			"no space is in use; qualify the entity or run USE first")
	}
	ent.Space = sess.Space
	return ent, nil
}

// lookupKeyed resolves the entity and checks that the WHERE clause
// addresses its primary key, the only indexed field.
func (e *Executor) lookupKeyed(sess *Session, entity Entity, keyField string) (*catalog.Model, error) {
	var ent, err = e.resolveEntity(sess, entity)
	if err != nil {
		return nil, err
	}
	var m *catalog.Model
	if m, err = e.co.Catalog().LookupModel(ent.Space, ent.Model); err != nil {
		return nil, err
	}
	if pk := m.PrimaryKey().Name; keyField != pk {
		return nil, protocol.NewQueryError(protocol.CodeSchemaViolation,
			"field %s is not the primary key of %s.%s (%s is)", keyField, ent.Space, ent.Model, pk)
	}
	return m, nil
}

func requireRoot(sess *Session) error {
	if sess.User != catalog.RootUsername {
		return protocol.NewQueryError(protocol.CodePermissionDenied,
			"sysctl requires the %s account", catalog.RootUsername)
	}
	return nil
}

// modelSchema converts parsed field definitions into a catalog schema,
// locating the single field declared primary.
func modelSchema(defs []FieldDef) ([]catalog.Field, int, error) {
	var fields = make([]catalog.Field, len(defs))
	var pk = -1
	for i, d := range defs {
		fields[i] = catalog.Field{Name: d.Name, Type: d.Type, Nullable: d.Nullable}
		if !d.Primary {
			continue
		}
		if pk != -1 {
			return nil, 0, protocol.NewQueryError(protocol.CodeSchemaViolation,
				"fields %s and %s are both declared primary", defs[pk].Name, d.Name)
		}
		pk = i
	}
	if pk == -1 {
		return nil, 0, protocol.NewQueryError(protocol.CodeSchemaViolation,
			"exactly one field must be declared primary")
	}
	return fields, pk, nil
}

// alterFields converts field definitions of an ALTER MODEL clause,
// which may not introduce or modify a primary key.
func alterFields(defs []FieldDef) ([]catalog.Field, error) {
	var fields = make([]catalog.Field, len(defs))
	for i, d := range defs {
		if d.Primary {
			return nil, protocol.NewQueryError(protocol.CodeSchemaViolation,
				"the primary key of a model cannot be altered")
		}
		fields[i] = catalog.Field{Name: d.Name, Type: d.Type, Nullable: d.Nullable}
	}
	return fields, nil
}

// bind resolves an expression to its value, drawing `?` placeholders
// from |params| by ordinal.
func bind(expr Expr, params []protocol.Value) (protocol.Value, error) {
	if !expr.Param {
		return expr.Lit, nil
	}
	if expr.N >= len(params) {
		return protocol.Value{}, protocol.NewQueryError(protocol.CodeParseError,
			"statement expects at least %d parameters, %d were sent", expr.N+1, len(params))
	}
	return params[expr.N], nil
}

func bindAll(exprs []Expr, params []protocol.Value) ([]protocol.Value, error) {
	var out = make([]protocol.Value, len(exprs))
	for i, expr := range exprs {
		var err error
		if out[i], err = bind(expr, params); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func bindProps(props map[string]Expr, params []protocol.Value) (map[string]protocol.Value, error) {
	if props == nil {
		return nil, nil
	}
	var out = make(map[string]protocol.Value, len(props))
	for k, expr := range props {
		var err error
		if out[k], err = bind(expr, params); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func codeIs(err error, code uint16) bool {
	return protocol.ErrorCode(err) == code
}
