package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const dumpA = `{
 "irreversible": 2,
 "blocks": [
  {"block": {"index": 1, "hash": "0x01"}, "transactions": [{"trace": {"id": "0xaa", "status": "executed"}}]},
  {"block": {"index": 2, "hash": "0x02"}, "transactions": []}
 ],
 "orphans": [{"seq": 1, "index": 2, "transactions": ["0xbb"]}]
}`

func writeDump(t *testing.T, name, data string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestCompare(t *testing.T) {
	a := writeDump(t, "a.json", dumpA)
	require.NoError(t, compare(a, writeDump(t, "b.json", dumpA)))

	for name, mutated := range map[string]string{
		"irreversible": `{"irreversible": 1, "blocks": [], "orphans": []}`,
		"size":         `{"irreversible": 2, "blocks": [], "orphans": []}`,
		"status": `{"irreversible": 2, "blocks": [
  {"block": {"index": 1, "hash": "0x01"}, "transactions": [{"trace": {"id": "0xaa", "status": "hard_fail"}}]},
  {"block": {"index": 2, "hash": "0x02"}, "transactions": []}
 ], "orphans": [{"seq": 1, "index": 2, "transactions": ["0xbb"]}]}`,
		"orphans": `{"irreversible": 2, "blocks": [
  {"block": {"index": 1, "hash": "0x01"}, "transactions": [{"trace": {"id": "0xaa", "status": "executed"}}]},
  {"block": {"index": 2, "hash": "0x02"}, "transactions": []}
 ], "orphans": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			require.Error(t, compare(a, writeDump(t, "b.json", mutated)))
		})
	}

	require.Error(t, compare(a, filepath.Join(t.TempDir(), "missing.json")))
}
