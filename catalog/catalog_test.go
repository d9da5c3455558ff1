package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

func TestSpaceLifecycle(t *testing.T) {
	var c = New()

	// Create a space with properties.
	var rec, err = c.PlanCreateSpace("app", props("env", protocol.String("prod")))
	require.NoError(t, err)
	require.Equal(t, OpCreateSpace, rec.Op)
	mustApply(t, c, rec, nil)

	var sp, serr = c.LookupSpace("app")
	require.NoError(t, serr)
	require.Equal(t, "app", sp.Name)
	require.Equal(t, protocol.String("prod"), sp.Props()["env"])

	// Creating it again refuses.
	_, err = c.PlanCreateSpace("app", nil)
	requireCode(t, protocol.CodeSpaceExists, err)

	// Alter patches properties; null removes.
	rec, err = c.PlanAlterSpace("app", props(
		"env", protocol.Null(),
		"replicas", protocol.Uint8(3),
	))
	mustApply(t, c, rec, err)

	sp, _ = c.LookupSpace("app")
	var got = sp.Props()
	require.NotContains(t, got, "env")
	require.Equal(t, protocol.Uint8(3), got["replicas"])

	// Drop of a space holding a model requires force.
	createModel(t, c, "app", "users")
	_, err = c.PlanDropSpace("app", false)
	requireCode(t, protocol.CodeSchemaViolation, err)

	rec, err = c.PlanDropSpace("app", true)
	mustApply(t, c, rec, err)

	_, err = c.LookupSpace("app")
	requireCode(t, protocol.CodeSpaceNotFound, err)
	_, err = c.LookupModel("app", "users")
	requireCode(t, protocol.CodeSpaceNotFound, err)

	_, err = c.PlanAlterSpace("app", nil)
	requireCode(t, protocol.CodeSpaceNotFound, err)
	_, err = c.PlanDropSpace("app", false)
	requireCode(t, protocol.CodeSpaceNotFound, err)
}

func TestModelSchemaValidation(t *testing.T) {
	var c = New()
	var rec, err = c.PlanCreateSpace("app", nil)
	mustApply(t, c, rec, err)

	var cases = []struct {
		fields []Field
		pk     int
		expect string
	}{
		{nil, 0, "invalid field count"},
		{userFields(), 5, "primary key index 5 is out of range"},
		{[]Field{
			{Name: "id", Type: TypeOf(protocol.KindString)},
			{Name: "id", Type: TypeOf(protocol.KindString)},
		}, 0, "field id is declared twice"},
		{[]Field{{Name: "w", Type: TypeOf(protocol.KindFloat64)}}, 0, "cannot be a primary key"},
		{[]Field{{Name: "k", Type: TypeOf(protocol.KindString), Nullable: true}}, 0,
			"primary key k cannot be nullable"},
		{[]Field{{Name: "bad-name", Type: TypeOf(protocol.KindString)}}, 0, "invalid identifier"},
	}
	for _, tc := range cases {
		var _, _, err = c.PlanCreateModel("app", "m", tc.fields, tc.pk)
		require.ErrorContains(t, err, tc.expect)
	}

	// A model in a missing space refuses.
	var _, _, merr = c.PlanCreateModel("nope", "m", userFields(), 0)
	requireCode(t, protocol.CodeSpaceNotFound, merr)

	createModel(t, c, "app", "users")
	_, _, merr = c.PlanCreateModel("app", "users", userFields(), 0)
	requireCode(t, protocol.CodeModelExists, merr)
}

func TestModelAlterFlows(t *testing.T) {
	var c = New()
	var rec, err = c.PlanCreateSpace("app", nil)
	mustApply(t, c, rec, err)
	var m = createModel(t, c, "app", "users")

	// Seed a row so nullability constraints bind.
	rec, err = m.PlanInsert(userRow("ada", 36))
	mustApply(t, m, rec, err)

	// Case: adding a non-nullable field to a model holding rows refuses.
	_, err = c.PlanAlterModelAdd("app", "users", []Field{
		{Name: "email", Type: TypeOf(protocol.KindString)},
	})
	require.ErrorContains(t, err, "cannot add non-nullable field email")

	// Case: nullable add applies, and existing rows read null.
	rec, err = c.PlanAlterModelAdd("app", "users", []Field{
		{Name: "email", Type: TypeOf(protocol.KindString), Nullable: true},
	})
	mustApply(t, c, rec, err)

	row, err := m.Get(protocol.String("ada"))
	require.NoError(t, err)
	require.Len(t, row, 3)
	require.True(t, row[2].IsNull())

	// Case: adding an existing name refuses.
	_, err = c.PlanAlterModelAdd("app", "users", []Field{
		{Name: "email", Type: TypeOf(protocol.KindString), Nullable: true},
	})
	require.ErrorContains(t, err, "field email already exists")

	// Case: a narrowing update refuses while rows do not conform.
	rec, err = m.PlanUpdate(protocol.String("ada"), []Assignment{
		{Field: "email", Value: protocol.String("ada@lovelace.dev")},
	})
	mustApply(t, m, rec, err)

	_, err = c.PlanAlterModelUpdate("app", "users", []Field{
		{Name: "email", Type: TypeOf(protocol.KindUint8), Nullable: true},
	})
	require.ErrorContains(t, err, "expected uint8, found string")

	// Case: a conforming update applies.
	rec, err = c.PlanAlterModelUpdate("app", "users", []Field{
		{Name: "age", Type: TypeOf(protocol.KindUint64)},
	})
	mustApply(t, c, rec, err)
	require.Equal(t, "uint64", m.Fields()[1].Type.String())

	// Case: the primary key can be neither removed nor updated.
	_, err = c.PlanAlterModelRemove("app", "users", []string{"username"})
	require.ErrorContains(t, err, "cannot remove the primary key")
	_, err = c.PlanAlterModelUpdate("app", "users", []Field{
		{Name: "username", Type: TypeOf(protocol.KindBinary)},
	})
	require.ErrorContains(t, err, "cannot update the primary key")

	// Case: removing a field drops its column of every row.
	rec, err = c.PlanAlterModelRemove("app", "users", []string{"age"})
	mustApply(t, c, rec, err)

	row, err = m.Get(protocol.String("ada"))
	require.NoError(t, err)
	require.Equal(t, []protocol.Value{
		protocol.String("ada"),
		protocol.String("ada@lovelace.dev"),
	}, row)

	// Case: drop model removes it from the space.
	var drop, id, derr = c.PlanDropModel("app", "users")
	require.NoError(t, derr)
	require.Equal(t, m.UUID, id)
	mustApply(t, c, drop, nil)

	_, err = c.LookupModel("app", "users")
	requireCode(t, protocol.CodeModelNotFound, err)
}

func TestUserLifecycle(t *testing.T) {
	var c = New()

	var rec, err = c.PlanCreateUser(RootUsername, []byte("root-hash"))
	mustApply(t, c, rec, err)
	rec, err = c.PlanCreateUser("sayan", []byte("hash-1"))
	mustApply(t, c, rec, err)

	var hash, ok = c.LookupUser("sayan")
	require.True(t, ok)
	require.Equal(t, []byte("hash-1"), hash)

	_, err = c.PlanCreateUser("sayan", []byte("hash-2"))
	requireCode(t, protocol.CodeUserExists, err)

	// The root account is protected from alter and drop.
	_, err = c.PlanAlterUser(RootUsername, []byte("x"))
	requireCode(t, protocol.CodeProtectedUser, err)
	_, err = c.PlanDropUser(RootUsername)
	requireCode(t, protocol.CodeProtectedUser, err)

	rec, err = c.PlanAlterUser("sayan", []byte("hash-2"))
	mustApply(t, c, rec, err)
	hash, _ = c.LookupUser("sayan")
	require.Equal(t, []byte("hash-2"), hash)

	rec, err = c.PlanDropUser("sayan")
	mustApply(t, c, rec, err)
	_, ok = c.LookupUser("sayan")
	require.False(t, ok)

	_, err = c.PlanAlterUser("sayan", []byte("x"))
	requireCode(t, protocol.CodeUserNotFound, err)
	_, err = c.PlanDropUser("sayan")
	requireCode(t, protocol.CodeUserNotFound, err)

	require.Equal(t, []string{"root"}, c.UserNames())
}

func TestCatalogImageRoundTrip(t *testing.T) {
	var c = New()
	var rec, err = c.PlanCreateSpace("app", props("env", protocol.String("prod")))
	mustApply(t, c, rec, err)
	rec, err = c.PlanCreateSpace("audit", nil)
	mustApply(t, c, rec, err)
	createModel(t, c, "app", "users")
	createModel(t, c, "audit", "trail")
	rec, err = c.PlanCreateUser("root", []byte("h0"))
	mustApply(t, c, rec, err)
	rec, err = c.PlanCreateUser("sayan", []byte("h1"))
	mustApply(t, c, rec, err)

	require.Equal(t, 6, c.LiveCount())

	var img, ierr = c.MarshalImage()
	require.NoError(t, ierr)

	// Images of equal state are byte-identical.
	img2, ierr := c.MarshalImage()
	require.NoError(t, ierr)
	require.Equal(t, img, img2)

	var out = New()
	require.NoError(t, out.UnmarshalImage(img))

	require.Equal(t, []string{"app", "audit"}, out.SpaceNames())
	require.Equal(t, []string{"root", "sayan"}, out.UserNames())

	var sp, _ = out.LookupSpace("app")
	require.Equal(t, protocol.String("prod"), sp.Props()["env"])

	var m, merr = out.LookupModel("app", "users")
	require.NoError(t, merr)
	require.Equal(t, "username", m.PrimaryKey().Name)
	require.Len(t, m.Fields(), 2)

	// The restored catalog re-marshals identically.
	img2, ierr = out.MarshalImage()
	require.NoError(t, ierr)
	require.Equal(t, img, img2)

	require.Error(t, New().UnmarshalImage([]byte("bogus")))
}

func TestInspectReports(t *testing.T) {
	var c = New()
	var rec, err = c.PlanCreateSpace("app", props("env", protocol.String("prod")))
	mustApply(t, c, rec, err)
	var m = createModel(t, c, "app", "users")
	rec, err = m.PlanInsert(userRow("ada", 36))
	mustApply(t, m, rec, err)
	rec, err = c.PlanCreateUser("root", []byte("h"))
	mustApply(t, c, rec, err)

	var doc, derr = c.InspectGlobal(GlobalFacts{
		Version: "0.8.4",
		Uptime:  90 * time.Second,
		Settings: map[string]string{
			"mode": "dev",
		},
	})
	require.NoError(t, derr)

	var global struct {
		Version string   `json:"version"`
		Uptime  string   `json:"uptime"`
		Spaces  []string `json:"spaces"`
		Users   []string `json:"users"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &global))
	require.Equal(t, "0.8.4", global.Version)
	require.Equal(t, "1m30s", global.Uptime)
	require.Equal(t, []string{"app"}, global.Spaces)
	require.Equal(t, []string{"root"}, global.Users)

	doc, derr = c.InspectSpace("app")
	require.NoError(t, derr)
	var space struct {
		Name       string            `json:"name"`
		Properties map[string]string `json:"properties"`
		Models     []string          `json:"models"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &space))
	require.Equal(t, "app", space.Name)
	require.Equal(t, `"prod"`, space.Properties["env"])
	require.Equal(t, []string{"users"}, space.Models)

	doc, derr = c.InspectModel("app", "users")
	require.NoError(t, derr)
	var model struct {
		PrimaryKey string `json:"primary_key"`
		Decl       string `json:"decl"`
		RowCount   int    `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &model))
	require.Equal(t, "username", model.PrimaryKey)
	require.Equal(t, "create model app.users(primary username: string, null age: uint8)", model.Decl)
	require.Equal(t, 1, model.RowCount)

	_, derr = c.InspectSpace("nope")
	requireCode(t, protocol.CodeSpaceNotFound, derr)
	_, derr = c.InspectModel("app", "nope")
	requireCode(t, protocol.CodeModelNotFound, derr)
}

// userFields is the test schema: a string key and a nullable uint8.
func userFields() []Field {
	return []Field{
		{Name: "username", Type: TypeOf(protocol.KindString)},
		{Name: "age", Type: TypeOf(protocol.KindUint8), Nullable: true},
	}
}

func userRow(name string, age uint8) []protocol.Value {
	return []protocol.Value{protocol.String(name), protocol.Uint8(age)}
}

func props(kv ...interface{}) map[string]protocol.Value {
	var out = make(map[string]protocol.Value, len(kv)/2)
	for i := 0; i != len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1].(protocol.Value)
	}
	return out
}

func createModel(t *testing.T, c *Catalog, space, model string) *Model {
	var rec, _, err = c.PlanCreateModel(space, model, userFields(), 0)
	mustApply(t, c, rec, err)

	m, err := c.LookupModel(space, model)
	require.NoError(t, err)
	return m
}

// mustApply asserts the plan succeeded and folds its record into |sm|.
func mustApply(t *testing.T, sm journal.StateMachine, rec journal.Record, err error) {
	require.NoError(t, err)
	require.NoError(t, sm.Apply(rec.Op, rec.Payload))
}

func requireCode(t *testing.T, code uint16, err error) {
	require.Error(t, err)
	require.Equal(t, code, protocol.ErrorCode(err))
}
