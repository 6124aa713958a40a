// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build !linux

package ticket

import "io/fs"

// fileTimes aproxima atime e ctime pelo mtime em plataformas sem Stat_t.
func fileTimes(info fs.FileInfo) (atime, ctime float64) {
	mod := epochSeconds(info.ModTime())
	return mod, mod
}
