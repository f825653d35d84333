package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
	"document-qa/internal/testutil"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`
rag:
  chunk_size: 40
  chunk_overlap: 10
storage:
  index_dir: %s
  upload_dir: %s
log:
  level: error
`, filepath.Join(dir, "index"), filepath.Join(dir, "pdfs"))
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestDryRunPrintsChunks(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	pdf := testutil.WritePDF(t, dir, "car.pdf", []string{"The runway length is 3000 meters for all aircraft."})

	out, err := run(t, "--config", cfgPath, "ingest", "--dry-run", pdf)
	require.NoError(t, err)

	var chunks []models.Chunk
	require.NoError(t, json.Unmarshal([]byte(out), &chunks))
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "car.pdf", chunks[0].Source)
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 30, chunks[1].Offset)
	assert.NoDirExists(t, filepath.Join(dir, "index"), "dry run does not persist")
}

func TestAskWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "--config", writeConfig(t, dir), "ask", "What", "is", "the", "runway", "length?")
	assert.ErrorIs(t, err, models.ErrIndexNotFound)
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag:\n  chunk_size: 100\n  chunk_overlap: 100\n"), 0o644))

	_, err := run(t, "--config", path, "ingest", "--dry-run", "x.pdf")
	assert.ErrorIs(t, err, models.ErrInvalidChunkSettings)
}

func TestIngestRequiresFile(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t, t.TempDir()), "ingest")
	assert.Error(t, err)
}
