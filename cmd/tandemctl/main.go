// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package main

import (
	"os"
)

func main() {
	if err := newRootCmd(newApp(os.Stdout)).Execute(); err != nil {
		os.Exit(1)
	}
}
