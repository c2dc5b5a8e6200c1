// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !linux && !darwin && !freebsd && !windows
// +build !linux,!darwin,!freebsd,!windows

package lifecycle

import "errors"

// DiskFree is not implemented on this platform; the storage check passes.
func DiskFree(path string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
