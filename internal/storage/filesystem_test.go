/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestFSPutGet(t *testing.T) {
	root := t.TempDir()
	fs := NewFS(root, zerolog.Nop())
	ctx := context.Background()

	data := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	if err := fs.Put(ctx, "exports/dinner-plan-2026-12-24.ics", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := fs.Get(ctx, "exports/dinner-plan-2026-12-24.ics")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	// The file lands under the root, not elsewhere.
	if _, err := os.Stat(filepath.Join(root, "exports", "dinner-plan-2026-12-24.ics")); err != nil {
		t.Errorf("expected artifact under root: %v", err)
	}
}

func TestFSGetMissing(t *testing.T) {
	fs := NewFS(t.TempDir(), zerolog.Nop())
	if _, err := fs.Get(context.Background(), "exports/nope.csv"); err == nil {
		t.Error("expected error for missing artifact")
	}
}

func TestFSRejectsEscapingKeys(t *testing.T) {
	fs := NewFS(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	for _, key := range []string{"", "../outside.ics", "a/../../outside.ics", "/etc/passwd"} {
		if err := fs.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) accepted a key outside the root", key)
		}
	}
}
