package objstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemPutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	if err := m.Put(ctx, "b", "k", []byte("abc")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := m.Get(ctx, "b", "k")
	if err != nil || string(v) != "abc" {
		t.Fatalf("get: v=%q err=%v", v, err)
	}
	// mutate the returned copy; the stored value must not change
	v[0] = 'X'
	v2, _ := m.Get(ctx, "b", "k")
	if string(v2) != "abc" {
		t.Fatalf("stored value aliased: %q", v2)
	}

	ok, err := m.Exists(ctx, "b", "k")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
	ok, err = m.Exists(ctx, "b", "missing")
	if err != nil || ok {
		t.Fatalf("exists on missing key: ok=%v err=%v", ok, err)
	}

	if err := m.Delete(ctx, "b", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "b", "k"); err == nil {
		t.Fatalf("expected get error after delete")
	}
	var te *TransferError
	if _, err := m.Get(ctx, "b", "k"); !errors.As(err, &te) {
		t.Fatalf("expected TransferError, got %v", err)
	}
}

func TestMemMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	_ = m.Put(ctx, "b", "k", nil)
	_, _ = m.Exists(ctx, "b", "k")
	_ = m.Delete(ctx, "b", "k")
	got := m.Metrics()
	if got.Puts != 1 || got.Exists != 1 || got.Deletes != 1 {
		t.Fatalf("metrics = %+v", got)
	}
}
