// Package envconf writes the environment file read by keyspace-API drivers
// at initialization.
package envconf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/piwi3910/kvbench/internal/kvs"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// File is the environment file layout.
type File struct {
	AIO AIO `yaml:"aio"`
	Emu Emu `yaml:"emu"`
	UDD UDD `yaml:"udd"`
}

// AIO holds kernel driver async I/O settings.
type AIO struct {
	IOCoreMask uint64 `yaml:"iocoremask"`
	QueueDepth int    `yaml:"queue_depth"`
}

// Emu holds emulator settings.
type Emu struct {
	ConfigFile string `yaml:"cfg_file"`
}

// UDD holds user-space driver settings.
type UDD struct {
	CoreMask     string `yaml:"core_mask_str"`
	CQThreadMask string `yaml:"cq_thread_mask"`
	MemSizeMB    uint32 `yaml:"mem_size_mb"`
	SyncIO       bool   `yaml:"syncio"`
}

// FromOptions builds the file contents for opts.
func FromOptions(opts kvs.EnvOptions) File {
	return File{
		AIO: AIO{IOCoreMask: opts.IOCoreMask, QueueDepth: opts.QueueDepth},
		Emu: Emu{ConfigFile: opts.ConfigFile},
		UDD: UDD{
			CoreMask:     opts.CoreMask,
			CQThreadMask: opts.CQThreadMask,
			MemSizeMB:    opts.MemSizeMB,
			SyncIO:       opts.SyncIO,
		},
	}
}

// Write replaces the file at path with f.
func Write(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return fmt.Errorf("failed to create env config directory: %w", err)
	}
	if err := Remove(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to marshal env config: %w", err)
	}

	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("failed to write env config: %w", err)
	}
	return nil
}

// Read loads the file at path.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read env config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid env config: %w", err)
	}
	return &f, nil
}

// Remove deletes the file at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove env config: %w", err)
	}
	return nil
}
