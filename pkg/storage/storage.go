// SPDX-License-Identifier: GPL-2.0-or-later

// Package storage handles the environment configuration, the
// recordings directory and disk usage accounting.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"gopkg.in/yaml.v2"

	"srec/pkg/log"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	Port        int `yaml:"port"`
	ControlPort int `yaml:"controlPort"`

	StorageDir string `yaml:"storageDir"`
	HomeDir    string `yaml:"homeDir"`

	// Default output filename or template for new recordings.
	Filename string `yaml:"filename"`

	ConfigDir string
}

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = 2020
	}
	if env.ControlPort == 0 {
		env.ControlPort = 22345
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}
	if env.Filename == "" {
		env.Filename = "untitled.xdf"
	}

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}

	return &env, nil
}

// RecordingsDir return recordings directory.
func (env ConfigEnv) RecordingsDir() string {
	return filepath.Join(env.StorageDir, "recordings")
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.RecordingsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create recordings directory: %v: %w", env.StorageDir, err)
	}
	return nil
}

// Manager storage manager.
type Manager struct {
	storageDir string
	disk       *diskCache
	removeAll  func(string) error

	logger *log.Logger
}

// NewManager returns new manager.
func NewManager(storageDir string, logger *log.Logger) *Manager {
	return &Manager{
		storageDir: storageDir,
		disk:       newDiskCache(storageDir),
		removeAll:  os.RemoveAll,

		logger: logger,
	}
}

// RecordingsDir returns path to recordings directory.
func (m *Manager) RecordingsDir() string {
	return filepath.Join(m.storageDir, "recordings")
}

// Usage returns cached disk usage if within maxAge. Will update and
// return a new value if the cached value is too old.
func (m *Manager) Usage(maxAge time.Duration) (DiskUsage, error) {
	return m.disk.usage(maxAge)
}

// purge checks if disk usage is above 99%, if true deletes the
// oldest recording.
func (m *Manager) purge() error {
	usage, err := m.Usage(10 * time.Minute)
	if err != nil {
		return fmt.Errorf("update disk usage: %w", err)
	}
	if usage.Percent < 99 {
		return nil
	}

	dir := m.RecordingsDir()
	list, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %v: %w", dir, err)
	}
	if len(list) == 0 {
		return nil
	}

	// Recordings are named by start time, the lexically first entry
	// is the oldest.
	oldest := filepath.Join(dir, list[0].Name())
	if err := m.removeAll(oldest); err != nil {
		return fmt.Errorf("remove %v: %w", oldest, err)
	}

	m.logger.Warn().Src("storage").Msgf("disk almost full, removed %v", oldest)
	return nil
}

// PurgeLoop runs purge on an interval until context is canceled.
func (m *Manager) PurgeLoop(ctx context.Context, duration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
			if err := m.purge(); err != nil {
				m.logger.Error().Src("storage").
					Msgf("could not purge storage: %v", err)
			}
		}
	}
}

// Only used to calculate and cache disk usage.
type diskCache struct {
	storageDir string
	usageFunc  func(string) (*disk.UsageStat, error)

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

func newDiskCache(storageDir string) *diskCache {
	return &diskCache{
		storageDir: storageDir,
		usageFunc:  disk.Usage,
	}
}

func (d *diskCache) usage(maxAge time.Duration) (DiskUsage, error) {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	// Still outdated.
	d.cacheLock.Unlock()

	stat, err := d.usageFunc(d.storageDir)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage %v: %w", d.storageDir, err)
	}
	updated := DiskUsage{
		Used:      int64(stat.Used),
		Total:     int64(stat.Total),
		Percent:   int(stat.UsedPercent),
		Formatted: formatDiskUsage(float64(stat.Used)),
	}

	d.cacheLock.Lock()
	d.cache = updated
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return updated, nil
}

// DiskUsage in bytes.
type DiskUsage struct {
	Used      int64
	Total     int64
	Percent   int
	Formatted string
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}
