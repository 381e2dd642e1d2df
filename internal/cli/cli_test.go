package cli

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robelix/miro/internal/schema"
	"github.com/robelix/miro/internal/store"
)

type note struct {
	id   int64
	Text string
}

func (n *note) ObjectID() int64 { return n.id }
func (n *note) Table() string   { return "note" }
func (n *note) Values() schema.Row {
	return schema.Row{"text": n.Text}
}

func noteRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(&schema.ObjectSchema{
		Table: "note",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.KindInt},
			{Name: "text", Kind: schema.KindText},
		},
		Classes: []schema.Class{{
			Name: "note",
			Restore: func(row schema.Row) (schema.Object, error) {
				n := &note{id: row.ID()}
				n.Text, _ = row["text"].(string)
				return n, nil
			},
		}},
	})
	require.NoError(t, err)
	return reg
}

// makeDatabase creates a store with a few rows and closes it.
func makeDatabase(t *testing.T, version int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.db")
	s, err := store.Open(store.Options{Path: path, Registry: noteRegistry(t), Version: version})
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.Insert(&note{id: s.MakeNewID(), Text: text}))
	}
	require.NoError(t, s.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInfoText(t *testing.T) {
	path := makeDatabase(t, 1)
	out, err := execute(t, "info", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "schema version: 1")
	assert.Contains(t, out, "note")
	assert.Contains(t, out, "3 rows")
}

func TestInfoJSON(t *testing.T) {
	path := makeDatabase(t, 2)
	out, err := execute(t, "--format", "json", "info", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result InfoResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "2", result.Version)
	require.Len(t, result.Tables, 1)
	assert.Equal(t, "note", result.Tables[0].Name)
	assert.Equal(t, int64(3), result.Tables[0].Rows)
}

func TestInfoMissingFile(t *testing.T) {
	_, err := execute(t, "info", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheckHealthyDatabase(t *testing.T) {
	path := makeDatabase(t, 1)
	out, err := execute(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "passed integrity check")
}

func TestCheckJSON(t *testing.T) {
	path := makeDatabase(t, 1)
	out, err := execute(t, "--format", "json", "check", path)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestBackupsEmpty(t *testing.T) {
	path := makeDatabase(t, 1)
	out, err := execute(t, "backups", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no backups")
}

func TestBackupsAfterUpgrade(t *testing.T) {
	path := makeDatabase(t, 1)
	s, err := store.Open(store.Options{
		Path:     path,
		Registry: noteRegistry(t),
		Version:  2,
		Steps: map[int]store.UpgradeStep{
			2: func(tx *sql.Tx) error { return nil },
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	out, err := execute(t, "backups", path)
	require.NoError(t, err)
	assert.Contains(t, out, "notes.db_backup_1")
}

func TestInvalidFormatRejected(t *testing.T) {
	path := makeDatabase(t, 1)
	_, err := execute(t, "--format", "xml", "info", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigSuppliesDefaultPath(t *testing.T) {
	path := makeDatabase(t, 1)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("path: "+path+"\n"), 0o644))

	out, err := execute(t, "--config", cfgPath, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version: 1")
}
