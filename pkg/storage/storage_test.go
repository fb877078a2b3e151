// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/require"

	"srec/pkg/log"
)

func TestNewConfigEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		env, err := NewConfigEnv("/home/user/configs/env.yaml", []byte{})
		require.NoError(t, err)

		expected := &ConfigEnv{
			Port:        2020,
			ControlPort: 22345,
			StorageDir:  "/home/user/storage",
			HomeDir:     "/home/user",
			Filename:    "untitled.xdf",
			ConfigDir:   "/home/user/configs",
		}
		require.Equal(t, expected, env)
	})
	t.Run("working", func(t *testing.T) {
		envYAML := []byte(`
port: 3000
controlPort: 4000
storageDir: /tmp/storage
filename: session.xdf
`)
		env, err := NewConfigEnv("/home/user/configs/env.yaml", envYAML)
		require.NoError(t, err)

		require.Equal(t, 3000, env.Port)
		require.Equal(t, 4000, env.ControlPort)
		require.Equal(t, "/tmp/storage", env.StorageDir)
		require.Equal(t, "session.xdf", env.Filename)
	})
	t.Run("badYaml", func(t *testing.T) {
		_, err := NewConfigEnv("", []byte("&"))
		require.Error(t, err)
	})
	t.Run("storageDirNotAbs", func(t *testing.T) {
		_, err := NewConfigEnv("/home/user/configs/env.yaml", []byte("storageDir: ."))
		require.ErrorIs(t, err, ErrPathNotAbsolute)
	})
	t.Run("homeDirNotAbs", func(t *testing.T) {
		_, err := NewConfigEnv("/home/user/configs/env.yaml", []byte("homeDir: ."))
		require.ErrorIs(t, err, ErrPathNotAbsolute)
	})
}

func TestPrepareEnvironment(t *testing.T) {
	env := ConfigEnv{StorageDir: filepath.Join(t.TempDir(), "storage")}

	require.NoError(t, env.PrepareEnvironment())
	require.DirExists(t, env.RecordingsDir())

	// Idempotent.
	require.NoError(t, env.PrepareEnvironment())
}

func newTestManager(t *testing.T, usage *disk.UsageStat) *Manager {
	manager := NewManager(t.TempDir(), log.NewMockLogger())
	manager.disk.usageFunc = func(string) (*disk.UsageStat, error) {
		return usage, nil
	}
	return manager
}

func TestDiskUsage(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		manager := newTestManager(t, &disk.UsageStat{
			Used:        11000000000,
			Total:       100000000000,
			UsedPercent: 11,
		})

		usage, err := manager.Usage(time.Minute)
		require.NoError(t, err)

		expected := DiskUsage{
			Used:      11000000000,
			Total:     100000000000,
			Percent:   11,
			Formatted: "11.0GB",
		}
		require.Equal(t, expected, usage)
	})
	t.Run("cached", func(t *testing.T) {
		manager := newTestManager(t, &disk.UsageStat{UsedPercent: 1})

		_, err := manager.Usage(time.Minute)
		require.NoError(t, err)

		// The stale stat must not be fetched again.
		manager.disk.usageFunc = func(string) (*disk.UsageStat, error) {
			return nil, errors.New("should not be called")
		}
		usage, err := manager.Usage(time.Minute)
		require.NoError(t, err)
		require.Equal(t, 1, usage.Percent)
	})
	t.Run("err", func(t *testing.T) {
		usageErr := errors.New("stub")
		manager := NewManager(t.TempDir(), log.NewMockLogger())
		manager.disk.usageFunc = func(string) (*disk.UsageStat, error) {
			return nil, usageErr
		}

		_, err := manager.Usage(0)
		require.ErrorIs(t, err, usageErr)
	})
}

func TestPurge(t *testing.T) {
	t.Run("belowThreshold", func(t *testing.T) {
		manager := newTestManager(t, &disk.UsageStat{UsedPercent: 50})
		manager.removeAll = func(string) error {
			t.Fatal("removeAll should not be called")
			return nil
		}
		require.NoError(t, manager.purge())
	})
	t.Run("removesOldest", func(t *testing.T) {
		manager := newTestManager(t, &disk.UsageStat{UsedPercent: 99})

		dir := manager.RecordingsDir()
		require.NoError(t, os.MkdirAll(dir, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xdf"), nil, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xdf"), nil, 0o600))

		var removed string
		manager.removeAll = func(path string) error {
			removed = path
			return nil
		}

		require.NoError(t, manager.purge())
		require.Equal(t, filepath.Join(dir, "a.xdf"), removed)
	})
	t.Run("emptyDir", func(t *testing.T) {
		manager := newTestManager(t, &disk.UsageStat{UsedPercent: 100})
		require.NoError(t, os.MkdirAll(manager.RecordingsDir(), 0o700))
		require.NoError(t, manager.purge())
	})
}

func TestFormatDiskUsage(t *testing.T) {
	cases := []struct {
		used     float64
		expected string
	}{
		{10 * megabyte, "10MB"},
		{2 * gigabyte, "2.00GB"},
		{20 * gigabyte, "20.0GB"},
		{200 * gigabyte, "200GB"},
		{2 * terabyte, "2.00TB"},
		{20 * terabyte, "20.0TB"},
		{200 * terabyte, "200TB"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, formatDiskUsage(tc.used))
	}
}
