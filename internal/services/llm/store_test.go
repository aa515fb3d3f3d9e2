package llm

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreLookupOnlyServesSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "llm_calls.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := NewCacheKey("m", "prompt", ResponseJSON)
	if _, ok, err := store.Lookup(ctx, key); err != nil || ok {
		t.Fatalf("expected miss on empty store (ok=%v err=%v)", ok, err)
	}

	if err := store.Save(ctx, CallRecord{Bucket: BucketError, LogTitle: "t", Model: "m", Prompt: "prompt", ResponseType: ResponseJSON, Attempt: 1, Message: "bad"}); err != nil {
		t.Fatalf("Save error record: %v", err)
	}
	if _, ok, _ := store.Lookup(ctx, key); ok {
		t.Fatal("error bucket must not be served from cache")
	}

	if err := store.Save(ctx, CallRecord{Bucket: BucketSuccess, LogTitle: "t", Model: "m", Prompt: "prompt", ResponseType: ResponseJSON, Attempt: 2, Raw: `{"a":1}`, Parsed: `{"a":1}`}); err != nil {
		t.Fatalf("Save success record: %v", err)
	}
	rec, ok, err := store.Lookup(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit (ok=%v err=%v)", ok, err)
	}
	if rec.Parsed != `{"a":1}` || rec.Attempt != 2 || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", rec)
	}

	errorsLogged, err := store.Records(ctx, BucketError, "t")
	if err != nil || len(errorsLogged) != 1 || errorsLogged[0].Message != "bad" {
		t.Fatalf("unexpected error records %+v (%v)", errorsLogged, err)
	}
}

func TestSQLiteStoreReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm_calls.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, CallRecord{Bucket: BucketSuccess, Model: "m", Prompt: "p", ResponseType: ResponseText, Raw: "x", Parsed: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, ok, err := reopened.Lookup(ctx, NewCacheKey("m", "p", ResponseText)); err != nil || !ok {
		t.Fatalf("expected persisted record (ok=%v err=%v)", ok, err)
	}
}
