// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the history of finished task runs.
//
// # Key Types
//
//   - RunLog: SQLite-backed log of tasks.Record values
//
// # Usage
//
//	log, err := storage.Open(path, 500)
//	if err != nil {
//	    return err
//	}
//	defer log.Close()
//
//	err = log.Record(ctx, tasks.RecordOf(task))
//	runs, err := log.Recent(ctx, 20)
//	fmt.Print(storage.FormatRunList(runs))
//
// # Storage Location
//
// Runs are stored in ~/.rigtask/history.db unless history.path is set.
package storage
