// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package cache

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/tomtom215/tandem/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func openMemory(t *testing.T) *Partitions {
	t.Helper()
	p, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPartitions_SaveLoadDelete(t *testing.T) {
	p := openMemory(t)

	if _, ok, err := p.Load("matches"); err != nil || ok {
		t.Fatalf("Load empty = ok %v, err %v", ok, err)
	}
	if err := p.Save("matches", []byte(`[{"id":"m1"}]`)); err != nil {
		t.Fatal(err)
	}
	if err := p.Save("matches", []byte(`[{"id":"m2"}]`)); err != nil {
		t.Fatal(err)
	}
	data, ok, err := p.Load("matches")
	if err != nil || !ok {
		t.Fatalf("Load = ok %v, err %v", ok, err)
	}
	if string(data) != `[{"id":"m2"}]` {
		t.Errorf("data = %s, want the latest snapshot", data)
	}

	if err := p.Delete("matches"); err != nil {
		t.Fatal(err)
	}
	if err := p.Delete("matches"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, ok, _ := p.Load("matches"); ok {
		t.Error("partition still present after Delete")
	}
}

func TestPartitions_Names(t *testing.T) {
	p := openMemory(t)
	for _, name := range []string{"profiles", "matches"} {
		if err := p.Save(name, []byte("[]")); err != nil {
			t.Fatal(err)
		}
	}
	names, err := p.Names()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "matches" || names[1] != "profiles" {
		t.Errorf("Names = %v", names)
	}
}

func TestPartitions_RejectsEmptyName(t *testing.T) {
	if err := openMemory(t).Save("", []byte("x")); err == nil {
		t.Error("Save with empty name succeeded")
	}
}

func TestPartitions_Closed(t *testing.T) {
	p, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := p.Save("matches", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
	if _, _, err := p.Load("matches"); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close = %v, want ErrClosed", err)
	}
}

func TestPartitions_SurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Save("matches", []byte("snapshot")); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	data, ok, err := reopened.Load("matches")
	if err != nil || !ok || string(data) != "snapshot" {
		t.Errorf("after reopen: data %q ok %v err %v", data, ok, err)
	}
}
