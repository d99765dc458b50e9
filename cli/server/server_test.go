package server

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	json "github.com/nspcc-dev/go-ordered-json"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

const testConfig = `ApplicationConfiguration:
  LogLevel: info
  LogPath: "%[1]s/log/chainmux.log"
  SignalMux:
    AlternateInterface: %[2]t
  Feed:
    Enabled: true
  TraceStore:
    Enabled: true
    DBConfiguration:
      Type: %[3]s
      BoltDBOptions:
        FilePath: "%[1]s/traces.bolt"
      LevelDBOptions:
        DataDirectoryPath: "%[1]s/traces"
  Monitor:
    Enabled: true
  Prometheus:
    Enabled: true
    Addresses: ["localhost:0"]
Simulation:
  Blocks: 6
  TxPerBlock: 2
  DiscardEvery: 3
  IrreversibleLag: 1
  Compression: lz4
`

func writeConfig(t *testing.T, direct bool, dbType string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "chainmux.yml")
	data := []byte(fmt.Sprintf(testConfig, filepath.ToSlash(dir), direct, dbType))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newApp() (*cli.App, *bytes.Buffer) {
	ctl := cli.NewApp()
	ctl.Commands = NewCommands()
	buf := new(bytes.Buffer)
	ctl.Writer = buf
	ctl.ErrWriter = buf
	ctl.ExitErrHandler = func(*cli.Context, error) {}
	return ctl, buf
}

type testDump struct {
	Irreversible *uint32 `json:"irreversible"`
	Blocks       []struct {
		Block struct {
			Index uint32 `json:"index"`
		} `json:"block"`
		Transactions []struct {
			Trace struct {
				ID         string `json:"id"`
				BlockIndex uint32 `json:"block_num"`
				Status     string `json:"status"`
			} `json:"trace"`
		} `json:"transactions"`
	} `json:"blocks"`
	Orphans []struct {
		Seq          uint32   `json:"seq"`
		Index        uint32   `json:"index"`
		Transactions []string `json:"transactions"`
	} `json:"orphans"`
}

func TestSimulateAndDump(t *testing.T) {
	for _, tc := range []struct {
		name   string
		direct bool
		dbType string
	}{
		{"buffered boltdb", false, "boltdb"},
		{"direct leveldb", true, "leveldb"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfgPath := writeConfig(t, tc.direct, tc.dbType)
			dir := filepath.Dir(cfgPath)

			ctl, _ := newApp()
			require.NoError(t, ctl.Run([]string{"chainmux", "simulate", "--config-file", cfgPath, "--exit"}))
			_, err := os.Stat(filepath.Join(dir, "log", "chainmux.log"))
			require.NoError(t, err)

			out := filepath.Join(dir, "dump.json")
			ctl, _ = newApp()
			require.NoError(t, ctl.Run([]string{"chainmux", "dump", "--config-file", cfgPath, "--out", out}))

			data, err := os.ReadFile(out)
			require.NoError(t, err)
			var d testDump
			require.NoError(t, json.Unmarshal(data, &d))

			require.NotNil(t, d.Irreversible)
			require.Equal(t, uint32(5), *d.Irreversible)
			require.Len(t, d.Blocks, 6)
			for i, b := range d.Blocks {
				require.Equal(t, uint32(i+1), b.Block.Index)
				require.Len(t, b.Transactions, 2)
				for _, tx := range b.Transactions {
					require.Equal(t, b.Block.Index, tx.Trace.BlockIndex)
				}
			}
			require.Len(t, d.Orphans, 2)
			require.Equal(t, uint32(3), d.Orphans[0].Index)
			require.Equal(t, uint32(5), d.Orphans[1].Index)
			require.Len(t, d.Orphans[1].Transactions, 2)

			ctl, buf := newApp()
			require.NoError(t, ctl.Run([]string{"chainmux", "dump", "--config-file", cfgPath, "--start", "4", "--count", "2"}))
			d = testDump{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &d))
			require.Len(t, d.Blocks, 2)
			require.Equal(t, uint32(4), d.Blocks[0].Block.Index)
			require.Equal(t, uint32(5), d.Blocks[1].Block.Index)
		})
	}
}

func TestSimulateBlocksOverride(t *testing.T) {
	cfgPath := writeConfig(t, false, "boltdb")
	ctl, _ := newApp()
	require.NoError(t, ctl.Run([]string{"chainmux", "simulate", "--config-file", cfgPath, "--blocks", "2", "--exit"}))

	ctl, buf := newApp()
	require.NoError(t, ctl.Run([]string{"chainmux", "dump", "--config-file", cfgPath}))
	var d testDump
	require.NoError(t, json.Unmarshal(buf.Bytes(), &d))
	require.Len(t, d.Blocks, 2)
	require.Empty(t, d.Orphans)
}

func TestCommandErrors(t *testing.T) {
	t.Run("extra arguments", func(t *testing.T) {
		ctl, _ := newApp()
		require.Error(t, ctl.Run([]string{"chainmux", "simulate", "--config-file", writeConfig(t, false, "boltdb"), "arg"}))
	})
	t.Run("missing config", func(t *testing.T) {
		ctl, _ := newApp()
		require.Error(t, ctl.Run([]string{"chainmux", "simulate", "--config-file", filepath.Join(t.TempDir(), "none.yml")}))
	})
	t.Run("in-memory dump", func(t *testing.T) {
		ctl, _ := newApp()
		require.Error(t, ctl.Run([]string{"chainmux", "dump", "--config-file", writeConfig(t, false, "inmemory")}))
	})
	t.Run("dump missing store", func(t *testing.T) {
		ctl, _ := newApp()
		require.Error(t, ctl.Run([]string{"chainmux", "dump", "--config-file", writeConfig(t, false, "leveldb")}))
	})
}
