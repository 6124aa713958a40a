// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux

package ticket

import (
	"io/fs"
	"syscall"
)

// fileTimes extrai atime e ctime em segundos epoch do stat do kernel.
func fileTimes(info fs.FileInfo) (atime, ctime float64) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		atime = float64(st.Atim.Sec) + float64(st.Atim.Nsec)/1e9
		ctime = float64(st.Ctim.Sec) + float64(st.Ctim.Nsec)/1e9
		return atime, ctime
	}
	mod := epochSeconds(info.ModTime())
	return mod, mod
}
