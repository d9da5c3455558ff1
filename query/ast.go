package query

import (
	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/protocol"
)

// Statement is one parsed query. Parsed statements are immutable and
// shared by the plan cache across sessions; execution binds parameters
// without mutating the plan. The kind method names the statement for
// metrics and logs.
type Statement interface {
	kind() string
}

// Entity addresses a model, qualified by space or resolved against the
// session's current space at execution.
type Entity struct {
	Space string
	Model string
}

// Expr is a value position in a statement: either a literal from the
// query text, or a reference to the parameter bound at its ordinal.
type Expr struct {
	Param bool
	N     int
	Lit   protocol.Value
}

// FieldDef is one field declaration of a create or alter statement.
type FieldDef struct {
	Name     string
	Type     catalog.Type
	Nullable bool
	Primary  bool
}

type CreateSpace struct {
	Name        string
	Props       map[string]Expr
	IfNotExists bool
}

type AlterSpace struct {
	Name  string
	Props map[string]Expr
}

type DropSpace struct {
	Name     string
	IfExists bool
	Force    bool
}

type CreateModel struct {
	Entity      Entity
	Fields      []FieldDef
	IfNotExists bool
}

type AlterModelAdd struct {
	Entity Entity
	Fields []FieldDef
}

type AlterModelRemove struct {
	Entity Entity
	Fields []string
}

type AlterModelUpdate struct {
	Entity Entity
	Fields []FieldDef
}

type DropModel struct {
	Entity   Entity
	IfExists bool
}

type Insert struct {
	Entity Entity
	Values []Expr
}

// Select is a point lookup: the where clause must test the model's
// primary key for equality.
type Select struct {
	Entity   Entity
	KeyField string
	Key      Expr
}

// SelectAll scans rows in primary-key order. Limit zero means all.
type SelectAll struct {
	Entity Entity
	Limit  uint64
}

type SetClause struct {
	Field string
	Value Expr
}

type Update struct {
	Entity   Entity
	Sets     []SetClause
	KeyField string
	Key      Expr
}

type Delete struct {
	Entity   Entity
	KeyField string
	Key      Expr
}

type Truncate struct {
	Entity Entity
}

// Use sets the session's current space; an empty Space clears it.
type Use struct {
	Space string
}

type InspectGlobal struct{}

type InspectSpace struct {
	Name string
}

type InspectModel struct {
	Entity Entity
}

type SysctlCreateUser struct {
	Name     string
	Password Expr
}

type SysctlAlterUser struct {
	Name     string
	Password Expr
}

type SysctlDropUser struct {
	Name string
}

type SysctlReport struct{}

func (*CreateSpace) kind() string      { return "create-space" }
func (*AlterSpace) kind() string       { return "alter-space" }
func (*DropSpace) kind() string        { return "drop-space" }
func (*CreateModel) kind() string      { return "create-model" }
func (*AlterModelAdd) kind() string    { return "alter-model-add" }
func (*AlterModelRemove) kind() string { return "alter-model-remove" }
func (*AlterModelUpdate) kind() string { return "alter-model-update" }
func (*DropModel) kind() string        { return "drop-model" }
func (*Insert) kind() string           { return "insert" }
func (*Select) kind() string           { return "select" }
func (*SelectAll) kind() string        { return "select-all" }
func (*Update) kind() string           { return "update" }
func (*Delete) kind() string           { return "delete" }
func (*Truncate) kind() string         { return "truncate" }
func (*Use) kind() string              { return "use" }
func (*InspectGlobal) kind() string    { return "inspect-global" }
func (*InspectSpace) kind() string     { return "inspect-space" }
func (*InspectModel) kind() string     { return "inspect-model" }
func (*SysctlCreateUser) kind() string { return "sysctl-create-user" }
func (*SysctlAlterUser) kind() string  { return "sysctl-alter-user" }
func (*SysctlDropUser) kind() string   { return "sysctl-drop-user" }
func (*SysctlReport) kind() string     { return "sysctl-report" }
