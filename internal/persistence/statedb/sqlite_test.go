package statedb

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSaveLoadRotatesBackups(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "state", "nav.sqlite"), 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if _, ok, err := st.Load(ctx, "nav.pose"); err != nil || ok {
		t.Fatalf("load missing: ok=%v err=%v", ok, err)
	}
	for _, v := range []string{"a", "b", "c", "d"} {
		if err := st.Save(ctx, "nav.pose", []byte(v)); err != nil {
			t.Fatalf("save %s: %v", v, err)
		}
	}
	v, ok, err := st.Load(ctx, "nav.pose")
	if err != nil || !ok || string(v) != "d" {
		t.Fatalf("load: %q ok=%v err=%v", v, ok, err)
	}

	backups, err := st.Backups(ctx, "nav.pose")
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
	if string(backups[0].Value) != "c" || string(backups[1].Value) != "b" {
		t.Fatalf("unexpected backup order: %q, %q", backups[0].Value, backups[1].Value)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "nav.sqlite"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if ok, err := st.Rollback(ctx, "k"); err != nil || ok {
		t.Fatalf("rollback empty: ok=%v err=%v", ok, err)
	}
	_ = st.Save(ctx, "k", []byte("1"))
	_ = st.Save(ctx, "k", []byte("2"))
	ok, err := st.Rollback(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("rollback: ok=%v err=%v", ok, err)
	}
	v, _, _ := st.Load(ctx, "k")
	if string(v) != "1" {
		t.Fatalf("expected 1 after rollback, got %q", v)
	}
	if b, _ := st.Backups(ctx, "k"); len(b) != 0 {
		t.Fatalf("backup not consumed: %d left", len(b))
	}
}

func TestKeysAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nav.sqlite")
	st, err := Open(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.Save(ctx, "nav.home", []byte(`{}`))
	_ = st.Save(ctx, "nav.pose", []byte(`{}`))
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	keys, err := st.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "nav.home" || keys[1] != "nav.pose" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
