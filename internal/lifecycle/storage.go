// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMinFreeMB is the space required before a model download starts
// (model plus runtime cache).
const DefaultMinFreeMB = 500

// FreeSpaceFunc returns the bytes available to the current user at path.
type FreeSpaceFunc func(path string) (uint64, error)

// StorageCheck is the pre-flight disk space check.
type StorageCheck struct {
	Dir       string
	MinFreeMB uint64
	FreeSpace FreeSpaceFunc
}

// Check returns an ErrStorageInsufficient error when Dir has less than
// MinFreeMB available. If free space cannot be determined the check passes.
func (c StorageCheck) Check() (availableMB uint64, err error) {
	required := c.MinFreeMB
	if required == 0 {
		required = DefaultMinFreeMB
	}
	free := c.FreeSpace
	if free == nil {
		free = DiskFree
	}
	dir := c.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	bytes, ferr := free(existingAncestor(dir))
	if ferr != nil {
		return 0, nil
	}
	availableMB = bytes / (1024 * 1024)
	if availableMB < required {
		msg := fmt.Sprintf("Insufficient storage: %d MB available, %d MB required. Please free up space.", availableMB, required)
		return availableMB, newError(ErrStorageInsufficient, EngineModel, msg, nil)
	}
	return availableMB, nil
}

// existingAncestor walks up until it finds a path that exists, so the check
// works before the model directory has been created.
func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
