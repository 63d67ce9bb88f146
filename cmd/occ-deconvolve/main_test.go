package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	doc := `data:
  n_chrom: 2
prior:
  a0: 1
  b0: 1
estimation_params:
  tol: 1e-6
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, ioutil.WriteFile(path, []byte(doc), 0600))
	return path
}

func TestHelpStatus(t *testing.T) {
	expect.EQ(t, run([]string{"-h"}), 2)
}

func TestUsageStatus(t *testing.T) {
	expect.EQ(t, run([]string{"--bogus"}), 1)
	expect.EQ(t, run(nil), 1)
	expect.EQ(t, run([]string{"/nonexistent/config.yaml"}), 1)
}

// Conflicting selection flags must fail before any computation or output.
func TestConflictingFlags(t *testing.T) {
	cfg := writeConfig(t)
	dir := filepath.Dir(cfg)

	expect.EQ(t, run([]string{"--null", "--both", cfg}), 1)
	expect.EQ(t, run([]string{"--all", "-c", "1,2", cfg}), 1)

	// The config directory holds nothing but the document itself.
	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.EQ(t, len(entries), 1)
	expect.EQ(t, entries[0].Name(), "config.yaml")
}
