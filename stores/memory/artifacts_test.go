package memory

import (
	"context"
	"errors"
	"quicksign-server/core"
	"sync"
	"testing"
)

func TestNewArtifactStore(t *testing.T) {
	store := NewArtifactStore()
	if store == nil {
		t.Fatal("NewArtifactStore() returned nil")
	}
}

func TestCreate_Success(t *testing.T) {
	store := NewArtifactStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Artifact{
		SessionID:   "session-1",
		Recipient:   "a@b.com",
		ContentType: "image/png",
		Data:        []byte("signed"),
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// ULIDs are 26 characters
	if len(id) != 26 {
		t.Errorf("Create() returned invalid ID length: got %d, want 26", len(id))
	}

	got, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if got.ID != id || got.Recipient != "a@b.com" || string(got.Data) != "signed" {
		t.Errorf("FindID() mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreate_CopiesData(t *testing.T) {
	store := NewArtifactStore()
	ctx := context.Background()

	data := []byte("signed")
	id, err := store.Create(ctx, &core.Artifact{Data: data})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	data[0] = 'X'

	got, _ := store.FindID(ctx, id)
	if string(got.Data) != "signed" {
		t.Errorf("Stored data aliased caller buffer: %q", got.Data)
	}
}

func TestFindID_NotFound(t *testing.T) {
	store := NewArtifactStore()

	_, err := store.FindID(context.Background(), "missing")
	if !errors.Is(err, core.ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}
}

func TestConcurrentCreate(t *testing.T) {
	store := NewArtifactStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Create(ctx, &core.Artifact{Data: []byte("x")})
			if err != nil {
				t.Errorf("Create() failed: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate ID %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Errorf("Expected 50 artifacts, got %d", len(seen))
	}
}
