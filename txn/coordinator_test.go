package txn

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/journal"
	"github.com/rizalgowandy/skytable/protocol"
)

func TestEngineLifecycleAndRecovery(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	var m = buildModel(t, c)

	require.NoError(t, insertUser(c, m, "ada", 36))
	require.NoError(t, insertUser(c, m, "brian", 41))

	var rec, err = c.Catalog().PlanCreateUser("sayan", []byte("hash"))
	commitUnit(t, c, System(), rec, err)

	var infos = c.Stores()
	require.Len(t, infos, 2)
	require.Equal(t, "catalog", infos[0].Name)
	require.Equal(t, "app.users", infos[1].Name)
	require.NoError(t, c.Close())

	// A second Close is a no-op, and transactions now refuse.
	require.NoError(t, c.Close())
	_, err = c.Begin(DDL("app"))
	requireCode(t, protocol.CodeShuttingDown, err)

	c = openEngine(t, fs)
	defer c.Close()

	require.Equal(t, []string{"app"}, c.Catalog().SpaceNames())
	require.Equal(t, []string{"sayan"}, c.Catalog().UserNames())
	_, ok := c.Catalog().LookupUser("sayan")
	require.True(t, ok)

	m, err = c.Catalog().LookupModel("app", "users")
	require.NoError(t, err)
	require.Equal(t, 2, m.RowCount())

	// The journal continues across the restart.
	require.NoError(t, insertUser(c, m, "eve", 29))
	require.Equal(t, 3, m.RowCount())
}

func TestIntentLockConflicts(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	defer c.Close()

	var tx, err = c.Begin(DDL("app"))
	require.NoError(t, err)

	// Case: the same space conflicts; another space does not.
	_, err = c.Begin(DDL("app"))
	require.Equal(t, ErrConflict, err)
	requireCode(t, protocol.CodeDDLConflict, err)

	other, err := c.Begin(DDL("other"))
	require.NoError(t, err)
	other.Abort()

	// Case: user administration is its own conflict domain.
	sys, err := c.Begin(System())
	require.NoError(t, err)
	_, err = c.Begin(System())
	require.Equal(t, ErrConflict, err)
	sys.Abort()

	// Case: an empty commit releases the intent lock.
	require.NoError(t, tx.Commit())
	tx, err = c.Begin(DDL("app"))
	require.NoError(t, err)

	// Case: a finished transaction refuses further commits.
	tx.Abort()
	requireCode(t, protocol.CodeTxnAborted, tx.Commit())

	_, err = c.Begin(Scope{})
	require.Error(t, err)
}

func TestConcurrentDistinctInserts(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	defer c.Close()
	var m = buildModel(t, c)

	const n = 16
	var wg sync.WaitGroup
	var errs [n]error

	for i := 0; i != n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = insertUser(c, m, fmt.Sprintf("user%02d", i), uint8(i))
		}(i)
	}
	wg.Wait()

	for i := 0; i != n; i++ {
		require.NoError(t, errs[i])
	}
	require.Equal(t, n, m.RowCount())
}

func TestConcurrentSamePKInserts(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	defer c.Close()
	var m = buildModel(t, c)

	var wg sync.WaitGroup
	var errs [2]error
	for i := 0; i != 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = insertUser(c, m, "dup", 1)
		}(i)
	}
	wg.Wait()

	// Exactly one wins; the loser observed the winner's applied row.
	var dups int
	for _, err := range errs {
		if err != nil {
			requireCode(t, protocol.CodeDuplicateKey, err)
			dups++
		}
	}
	require.Equal(t, 1, dups)
	require.Equal(t, 1, m.RowCount())
}

func TestDropModelRetiresStore(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	defer c.Close()
	var m = buildModel(t, c)
	require.NoError(t, insertUser(c, m, "ada", 36))

	var dir = filepath.Join(c.ModelsDir(), m.UUID.String())
	exists, err := afero.DirExists(fs, dir)
	require.NoError(t, err)
	require.True(t, exists)

	rec, id, err := c.Catalog().PlanDropModel("app", "users")
	require.NoError(t, err)
	require.Equal(t, m.UUID, id)
	commitUnit(t, c, DDLModel("app", m), rec, nil)

	require.Len(t, c.Stores(), 1)

	// The orphaned directory remains for background cleanup.
	exists, err = afero.DirExists(fs, dir)
	require.NoError(t, err)
	require.True(t, exists)

	_, err = c.Begin(DML(m))
	requireCode(t, protocol.CodeModelNotFound, err)
}

func TestAbortLeavesNoTrace(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	var m = buildModel(t, c)

	var tx, err = c.Begin(DML(m))
	require.NoError(t, err)
	rec, err := m.PlanInsert([]protocol.Value{protocol.String("ada"), protocol.Uint8(1)})
	require.NoError(t, err)
	tx.Stage(rec)
	tx.Abort()

	require.Equal(t, 0, m.RowCount())

	// The abandoned plan reserves nothing: the key is free.
	require.NoError(t, insertUser(c, m, "ada", 2))
	require.NoError(t, c.Close())

	c = openEngine(t, fs)
	defer c.Close()
	m, err = c.Catalog().LookupModel("app", "users")
	require.NoError(t, err)
	require.Equal(t, 1, m.RowCount())
}

func TestCrashDiscardsUncommittedRowUnit(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	var m = buildModel(t, c)

	require.NoError(t, insertUser(c, m, "ada", 36))
	require.NoError(t, insertUser(c, m, "brian", 41))

	var dir = filepath.Join(c.ModelsDir(), m.UUID.String())
	require.NoError(t, c.Close())

	// Cut through the close marker and into the final commit marker,
	// as a crash between append and barrier would: the model's second
	// unit loses its commit and must not replay.
	truncateTail(t, fs, dir, 28)

	c = openEngine(t, fs)
	defer c.Close()
	m, err := c.Catalog().LookupModel("app", "users")
	require.NoError(t, err)
	require.Equal(t, 1, m.RowCount())

	_, err = m.Get(protocol.String("ada"))
	require.NoError(t, err)
	_, err = m.Get(protocol.String("brian"))
	requireCode(t, protocol.CodeRowNotFound, err)
}

func TestCrashDiscardsUncommittedSchemaUnit(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)

	var rec, err = c.Catalog().PlanCreateSpace("app", nil)
	commitUnit(t, c, DDL("app"), rec, err)
	require.NoError(t, c.Close())

	truncateTail(t, fs, filepath.Join("data", "catalog"), 28)

	c = openEngine(t, fs)
	defer c.Close()
	require.Empty(t, c.Catalog().SpaceNames())
}

func TestDegradedEngineIsReadOnly(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	var m = buildModel(t, c)
	require.NoError(t, insertUser(c, m, "ada", 36))
	require.NoError(t, c.Close())

	// Flip a byte inside the open marker's lineage payload. Later
	// records make this corruption rather than a torn tail.
	var dir = filepath.Join("data", "catalog")
	var seg = segmentPath(t, fs, dir)
	b, err := afero.ReadFile(fs, seg)
	require.NoError(t, err)
	b[30] ^= 0x01
	require.NoError(t, afero.WriteFile(fs, seg, b, 0644))

	_, err = Open(fs, "data", testOpts())
	require.Error(t, err)
	require.Contains(t, err.Error(), "journal corruption")

	c, err = Open(fs, "data", journal.Options{DegradedOK: true, DisableAutoCompact: true})
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.ReadOnly())
	require.Empty(t, c.Catalog().SpaceNames())

	_, err = c.Begin(DDL("app"))
	requireCode(t, protocol.CodeReadOnly, err)
	_, err = c.Begin(DML(m))
	requireCode(t, protocol.CodeReadOnly, err)
}

func TestAlterModelAcrossRestart(t *testing.T) {
	var fs = afero.NewMemMapFs()
	var c = openEngine(t, fs)
	var m = buildModel(t, c)
	require.NoError(t, insertUser(c, m, "ada", 36))

	var rec, err = c.Catalog().PlanAlterModelAdd("app", "users", []catalog.Field{
		{Name: "email", Type: catalog.TypeOf(protocol.KindString), Nullable: true},
	})
	commitUnit(t, c, DDLModel("app", m), rec, err)

	// The widened schema accepts three values.
	tx, err := c.Begin(DML(m))
	require.NoError(t, err)
	rec, err = m.PlanInsert([]protocol.Value{
		protocol.String("eve"), protocol.Uint8(29), protocol.String("e@x.io"),
	})
	require.NoError(t, err)
	tx.Stage(rec)
	require.NoError(t, tx.Commit())
	require.NoError(t, c.Close())

	c = openEngine(t, fs)
	defer c.Close()
	m, err = c.Catalog().LookupModel("app", "users")
	require.NoError(t, err)
	require.Len(t, m.Fields(), 3)
	require.Equal(t, 2, m.RowCount())

	// The row journaled under the two-field schema reads null email.
	row, err := m.Get(protocol.String("ada"))
	require.NoError(t, err)
	require.True(t, row[2].IsNull())

	row, err = m.Get(protocol.String("eve"))
	require.NoError(t, err)
	require.Equal(t, protocol.String("e@x.io"), row[2])
}

func testOpts() journal.Options { return journal.Options{DisableAutoCompact: true} }

func openEngine(t *testing.T, fs afero.Fs) *Coordinator {
	var c, err = Open(fs, "data", testOpts())
	require.NoError(t, err)
	return c
}

// commitUnit stages one planned record and commits it under |scope|.
func commitUnit(t *testing.T, c *Coordinator, scope Scope, rec journal.Record, err error) {
	t.Helper()
	require.NoError(t, err)
	var tx, berr = c.Begin(scope)
	require.NoError(t, berr)
	tx.Stage(rec)
	require.NoError(t, tx.Commit())
}

func buildModel(t *testing.T, c *Coordinator) *catalog.Model {
	t.Helper()
	var rec, err = c.Catalog().PlanCreateSpace("app", nil)
	commitUnit(t, c, DDL("app"), rec, err)

	rec, _, err = c.Catalog().PlanCreateModel("app", "users", []catalog.Field{
		{Name: "username", Type: catalog.TypeOf(protocol.KindString)},
		{Name: "age", Type: catalog.TypeOf(protocol.KindUint8), Nullable: true},
	}, 0)
	commitUnit(t, c, DDL("app"), rec, err)

	var m, merr = c.Catalog().LookupModel("app", "users")
	require.NoError(t, merr)
	return m
}

func insertUser(c *Coordinator, m *catalog.Model, name string, age uint8) error {
	var tx, err = c.Begin(DML(m))
	if err != nil {
		return err
	}
	defer tx.Abort()

	rec, err := m.PlanInsert([]protocol.Value{protocol.String(name), protocol.Uint8(age)})
	if err != nil {
		return err
	}
	tx.Stage(rec)
	return tx.Commit()
}

func segmentPath(t *testing.T, fs afero.Fs, dir string) string {
	t.Helper()
	var infos, err = afero.ReadDir(fs, dir)
	require.NoError(t, err)

	var segs []string
	for _, fi := range infos {
		if strings.HasPrefix(fi.Name(), "segment-") {
			segs = append(segs, filepath.Join(dir, fi.Name()))
		}
	}
	require.Len(t, segs, 1)
	return segs[0]
}

func truncateTail(t *testing.T, fs afero.Fs, dir string, n int) {
	t.Helper()
	var seg = segmentPath(t, fs, dir)
	var b, err = afero.ReadFile(fs, seg)
	require.NoError(t, err)
	require.Greater(t, len(b), n)
	require.NoError(t, afero.WriteFile(fs, seg, b[:len(b)-n], 0644))
}

func requireCode(t *testing.T, code uint16, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, protocol.ErrorCode(err))
}
