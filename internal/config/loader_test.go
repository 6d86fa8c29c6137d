package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.conf")

	cfg, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	// The generated file parses back to the same values.
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadParsesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.conf")
	content := `# test config
Address=127.0.0.1
Port=9000
DatabasePath=state.db
LogFile=out.log
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Address)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "state.db", cfg.DatabasePath)
	require.Equal(t, "out.log", cfg.LogFile)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.conf")
	content := `Address=not-an-ip
Port=99999
DatabasePath=
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, Default().Port, cfg.Port)
	require.Equal(t, "", cfg.Address)
	require.Equal(t, Default().DatabasePath, cfg.DatabasePath)
}

func TestLoadNonNumericPortFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.conf")
	content := `Port=not-a-number
Address=127.0.0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// A value that does not even parse must not prevent startup.
	cfg, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, Default().Port, cfg.Port)
	require.Equal(t, "127.0.0.1", cfg.Address)
}

func TestLoadCommentedAddressMeansAny(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.conf")
	content := `#Address=10.1.2.3
Port=16180
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(zerolog.Nop(), path)
	require.NoError(t, err)
	require.Equal(t, "", cfg.Address)
}
