/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage persists exported plan artifacts (iCal feeds, CSV
// prep sheets) outside the database.
package storage

import "context"

// ObjectStore abstracts artifact storage operations. Keys are
// slash-separated relative paths chosen by the caller.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
