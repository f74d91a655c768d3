// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import "errors"

var (
	// ErrTransactionActive indicates Begin was called while a transaction
	// is already open on this applicator.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoTransaction indicates Commit or Rollback was called with no
	// open transaction.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrUnsafeRewrite indicates the safety checker found a critical
	// violation in the candidate content.
	ErrUnsafeRewrite = errors.New("rewrite failed safety check")

	// ErrRollbackFailed indicates one or more files could not be restored
	// from their backups.
	ErrRollbackFailed = errors.New("rollback incomplete")
)
