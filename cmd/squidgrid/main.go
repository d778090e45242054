// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

// Command squidgrid serves the squid grid API and inspects its tables.
//
// Usage:
//
//	squidgrid serve
//	squidgrid layouts lookup 22......333.....4444....
//	squidgrid table fetch --variant big
//	squidgrid match 6699 300000
//	squidgrid priors 6699 --timer-steps 7000
//	squidgrid timer estimate --seconds 24.5 --loading
//
// Example requests against a running server:
//
//	curl http://127.0.0.1:8090/v1/squidgrid/status | jq
//
//	curl -X POST http://127.0.0.1:8090/v1/squidgrid/tables/load \
//	  -H "Content-Type: application/json" \
//	  -d '{"variant": "small", "wait": true}'
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/squidgrid/pkg/ux"
	"github.com/AleutianAI/squidgrid/services/squidgrid/artifact"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(report(ux.NewPrinter(os.Stderr, !ux.IsTerminal(os.Stderr)), err))
	}
}

// report prints err and returns the exit code.
func report(out *ux.Printer, err error) int {
	switch {
	case errors.Is(err, artifact.ErrStoreBlocked):
		out.ErrorBox("Artifact store in use",
			"Another squidgrid process holds the cache open.\n"+
				"Close it and restart squidgrid.")
		return 3
	case errors.Is(err, artifact.ErrSchemaUnsupported):
		out.ErrorBox("Artifact store out of date",
			"The cache was written by a different squidgrid version.\n"+
				"Delete the storage directory and restart squidgrid.")
		return 3
	case errors.Is(err, artifact.ErrStoreClosed), errors.Is(err, artifact.ErrStoreUnavailable):
		out.ErrorBox("Artifact store unavailable",
			fmt.Sprintf("%v\nRestart squidgrid.", err))
		return 3
	default:
		out.Error(err.Error())
		return 1
	}
}
