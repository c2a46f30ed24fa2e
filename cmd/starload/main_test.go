package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/starload/pkg/config"
)

func TestMigrateCommand(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "warehouse.db")

	root := newRootCommand()
	root.SetArgs([]string{"migrate", "--warehouse-driver", "sqlite", "--warehouse-dsn", dsn, "--log-level", "error"})
	require.NoError(t, root.Execute())
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"run", "--warehouse-driver", "oracle", "--warehouse-dsn", "x", "--log-level", "error"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `warehouse.driver "oracle" is not supported`)
}

func TestLoadConfig_FlagOverlay(t *testing.T) {
	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{"--sources-dir", "s3://olist/raw", "--warehouse-driver", "mysql"}))

	v := config.NewViper()
	bindFlags(v, root)

	cfg, err := loadConfig("", v)
	require.NoError(t, err)
	assert.Equal(t, "s3://olist/raw", cfg.Sources.Dir)
	assert.Equal(t, config.DriverMySQL, cfg.Warehouse.Driver)
	assert.Equal(t, "s3://olist/raw/"+config.DefaultOrdersFile, cfg.Sources.Locations()["orders"])
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starload.yaml")
	args := []string{"config", "init", path, "--warehouse-driver", "sqlite", "--warehouse-dsn", "file:dw.db", "--log-level", "error"}

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Warehouse.Driver)
	assert.Equal(t, "file:dw.db", cfg.Warehouse.DSN)
	assert.Equal(t, config.Default().Reliability, cfg.Reliability)
	require.NoError(t, cfg.Validate())

	t.Run("keeps an existing file", func(t *testing.T) {
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		root := newRootCommand()
		root.SetArgs(append(args[:3:3], "--warehouse-dsn", "file:other.db"))
		err = root.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("force overwrites", func(t *testing.T) {
		root := newRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetArgs(append(args[:3:3], "--force", "--warehouse-dsn", "file:other.db"))
		require.NoError(t, root.Execute())

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "file:other.db", cfg.Warehouse.DSN)
	})
}
