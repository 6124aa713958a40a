// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nishisan-dev/dm-irods/internal/config"
	"github.com/nishisan-dev/dm-irods/internal/daemon"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-base-dir DIR] start|stop|status|restart|run\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	baseDir := flag.String("base-dir", "", "daemon base directory (default ~/.DmIRodsServer)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	dir := *baseDir
	if dir == "" {
		var err error
		dir, err = config.BaseDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	app := daemon.NewApp(dir)

	var err error
	switch flag.Arg(0) {
	case "start":
		err = app.Start()
	case "stop":
		err = app.Stop()
	case "status":
		err = app.Status()
	case "restart":
		err = app.Restart()
	case "run":
		err = app.Run()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
