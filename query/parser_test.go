package query

import (
	"testing"

	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/protocol"
	"github.com/stretchr/testify/require"
)

func TestParseSchemaStatements(t *testing.T) {
	var cases = []struct {
		src  string
		want Statement
	}{
		{
			"CREATE SPACE app",
			&CreateSpace{Name: "app"},
		},
		{
			"create space if not exists app with { storage: 'disk', shards: 4 }",
			&CreateSpace{
				Name:        "app",
				IfNotExists: true,
				Props: map[string]Expr{
					"storage": {Lit: protocol.String("disk")},
					"shards":  {Lit: protocol.Uint64(4)},
				},
			},
		},
		{
			"ALTER SPACE app WITH { storage: ? }",
			&AlterSpace{
				Name:  "app",
				Props: map[string]Expr{"storage": {Param: true}},
			},
		},
		{
			"DROP SPACE app",
			&DropSpace{Name: "app"},
		},
		{
			"DROP SPACE IF EXISTS app FORCE",
			&DropSpace{Name: "app", IfExists: true, Force: true},
		},
		{
			"CREATE MODEL app.users(primary username: string, null age: uint8, tags: list { type: string })",
			&CreateModel{
				Entity: Entity{Space: "app", Model: "users"},
				Fields: []FieldDef{
					{Name: "username", Type: catalog.TypeOf(protocol.KindString), Primary: true},
					{Name: "age", Type: catalog.TypeOf(protocol.KindUint8), Nullable: true},
					{Name: "tags", Type: catalog.ListOf(catalog.TypeOf(protocol.KindString))},
				},
			},
		},
		{
			"CREATE MODEL IF NOT EXISTS users(primary id: uint64)",
			&CreateModel{
				Entity:      Entity{Model: "users"},
				IfNotExists: true,
				Fields: []FieldDef{
					{Name: "id", Type: catalog.TypeOf(protocol.KindUint64), Primary: true},
				},
			},
		},
		{
			"ALTER MODEL app.users ADD (email: string, null bio: string)",
			&AlterModelAdd{
				Entity: Entity{Space: "app", Model: "users"},
				Fields: []FieldDef{
					{Name: "email", Type: catalog.TypeOf(protocol.KindString)},
					{Name: "bio", Type: catalog.TypeOf(protocol.KindString), Nullable: true},
				},
			},
		},
		{
			"ALTER MODEL users REMOVE (email, bio)",
			&AlterModelRemove{
				Entity: Entity{Model: "users"},
				Fields: []string{"email", "bio"},
			},
		},
		{
			"ALTER MODEL users UPDATE (null age: uint16)",
			&AlterModelUpdate{
				Entity: Entity{Model: "users"},
				Fields: []FieldDef{
					{Name: "age", Type: catalog.TypeOf(protocol.KindUint16), Nullable: true},
				},
			},
		},
		{
			"DROP MODEL IF EXISTS app.users",
			&DropModel{Entity: Entity{Space: "app", Model: "users"}, IfExists: true},
		},
	}
	for _, tc := range cases {
		var stmt, err = Parse(tc.src)
		require.NoError(t, err, tc.src)
		require.Equal(t, tc.want, stmt, tc.src)
	}
}

func TestParseRowStatements(t *testing.T) {
	var cases = []struct {
		src  string
		want Statement
	}{
		{
			"INSERT INTO app.users('sayan', 21, null, ?)",
			&Insert{
				Entity: Entity{Space: "app", Model: "users"},
				Values: []Expr{
					{Lit: protocol.String("sayan")},
					{Lit: protocol.Uint64(21)},
					{Lit: protocol.Null()},
					{Param: true, N: 0},
				},
			},
		},
		{
			"SELECT * FROM users WHERE username = ?",
			&Select{
				Entity:   Entity{Model: "users"},
				KeyField: "username",
				Key:      Expr{Param: true},
			},
		},
		{
			"SELECT ALL * FROM app.users",
			&SelectAll{Entity: Entity{Space: "app", Model: "users"}},
		},
		{
			"SELECT ALL * FROM app.users LIMIT 10",
			&SelectAll{Entity: Entity{Space: "app", Model: "users"}, Limit: 10},
		},
		{
			"UPDATE users SET age = ?, bio = 'hello' WHERE username = ?",
			&Update{
				Entity: Entity{Model: "users"},
				Sets: []SetClause{
					{Field: "age", Value: Expr{Param: true, N: 0}},
					{Field: "bio", Value: Expr{Lit: protocol.String("hello")}},
				},
				KeyField: "username",
				Key:      Expr{Param: true, N: 1},
			},
		},
		{
			"DELETE FROM users WHERE username = 'sayan'",
			&Delete{
				Entity:   Entity{Model: "users"},
				KeyField: "username",
				Key:      Expr{Lit: protocol.String("sayan")},
			},
		},
		{
			"TRUNCATE MODEL app.users",
			&Truncate{Entity: Entity{Space: "app", Model: "users"}},
		},
	}
	for _, tc := range cases {
		var stmt, err = Parse(tc.src)
		require.NoError(t, err, tc.src)
		require.Equal(t, tc.want, stmt, tc.src)
	}
}

func TestParseSessionAndSystemStatements(t *testing.T) {
	var cases = []struct {
		src  string
		want Statement
	}{
		{"USE app", &Use{Space: "app"}},
		{"USE NULL", &Use{}},
		{"INSPECT GLOBAL", &InspectGlobal{}},
		{"INSPECT SPACE app", &InspectSpace{Name: "app"}},
		{"INSPECT MODEL app.users", &InspectModel{Entity: Entity{Space: "app", Model: "users"}}},
		{
			"SYSCTL CREATE USER sayan WITH { password: ? }",
			&SysctlCreateUser{Name: "sayan", Password: Expr{Param: true}},
		},
		{
			"SYSCTL ALTER USER sayan WITH { password: 'hunter2' }",
			&SysctlAlterUser{Name: "sayan", Password: Expr{Lit: protocol.String("hunter2")}},
		},
		{"SYSCTL DROP USER sayan", &SysctlDropUser{Name: "sayan"}},
		{"SYSCTL REPORT STATUS", &SysctlReport{}},
	}
	for _, tc := range cases {
		var stmt, err = Parse(tc.src)
		require.NoError(t, err, tc.src)
		require.Equal(t, tc.want, stmt, tc.src)
	}
}

func TestParseParameterOrdinals(t *testing.T) {
	// Placeholders number left to right in query text order.
	var stmt, err = Parse("UPDATE users SET a = ?, b = ? WHERE pk = ?")
	require.NoError(t, err)

	var upd = stmt.(*Update)
	require.Equal(t, 0, upd.Sets[0].Value.N)
	require.Equal(t, 1, upd.Sets[1].Value.N)
	require.Equal(t, 2, upd.Key.N)
}

func TestParseErrors(t *testing.T) {
	var cases = []struct {
		src  string
		code uint16
	}{
		{"", protocol.CodeUnknownStatement},
		{"HELLO WORLD", protocol.CodeUnknownStatement},
		{"upsert into users(1)", protocol.CodeUnknownStatement},
		{"CREATE TABLE users", protocol.CodeParseError},
		{"CREATE SPACE", protocol.CodeParseError},
		{"CREATE SPACE IF EXISTS app", protocol.CodeParseError},
		{"CREATE SPACE app extra", protocol.CodeParseError},
		{"CREATE SPACE app WITH { a: 1, a: 2 }", protocol.CodeParseError},
		{"CREATE MODEL users(primary id: uint63)", protocol.CodeSchemaViolation},
		{"CREATE MODEL users(primary id: list)", protocol.CodeParseError},
		{"INSERT INTO users(1,)", protocol.CodeParseError},
		{"SELECT * FROM users", protocol.CodeParseError},
		{"SELECT * FROM app.users.extra WHERE a = 1", protocol.CodeParseError},
		{"UPDATE users SET WHERE pk = 1", protocol.CodeParseError},
		{"USE", protocol.CodeParseError},
		{"SYSCTL CREATE USER u WITH { password: 'x', level: 9 }", protocol.CodeParseError},
		{"SYSCTL CREATE USER u WITH { username: 'x' }", protocol.CodeParseError},
		{"SYSCTL REPORT", protocol.CodeParseError},
	}
	for _, tc := range cases {
		var _, err = Parse(tc.src)
		require.Error(t, err, tc.src)
		requireCode(t, err, tc.code)
	}
}

func TestParseErrorPositions(t *testing.T) {
	var _, err = Parse("DROP SPACE 'app'")
	require.EqualError(t, err, "expected an identifier at offset 11 (2001)")

	_, err = Parse("CREATE SPACE")
	require.EqualError(t, err, "expected an identifier at end of input (2001)")
}
