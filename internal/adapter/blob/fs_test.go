package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

func newStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir(), "http://localhost:8080/audio")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestPut_ReturnsURLAndPersists(t *testing.T) {
	s := newStore(t)
	url, err := s.Put(context.Background(), "sess1/q1.mp3", []byte("audio-bytes"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://localhost:8080/audio/sess1/q1.mp3" {
		t.Fatalf("unexpected URL: %q", url)
	}
	data, err := os.ReadFile(filepath.Join(s.root, "sess1", "q1.mp3"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected file content: %q", data)
	}
}

func TestPut_Overwrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "sess1/q1.mp3", []byte("v1"), "audio/mpeg"); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if _, err := s.Put(ctx, "sess1/q1.mp3", []byte("v2"), "audio/mpeg"); err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(s.root, "sess1", "q1.mp3"))
	if string(data) != "v2" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestPut_RejectsTraversal(t *testing.T) {
	s := newStore(t)
	for _, key := range []string{"", "/abs.mp3", "../escape.mp3", "a/../../b.mp3"} {
		if _, err := s.Put(context.Background(), key, []byte("x"), "audio/mpeg"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("key %q: want ErrInvalidArgument, got %v", key, err)
		}
	}
}

func TestDelete_MissingIsNoop(t *testing.T) {
	s := newStore(t)
	if err := s.Delete(context.Background(), "sess1/never-written.mp3"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestDelete_RemovesObject(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "sess1/q1.mp3", []byte("x"), "audio/mpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "sess1/q1.mp3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "sess1", "q1.mp3")); !os.IsNotExist(err) {
		t.Fatal("object should be gone")
	}
}

func TestDeleteByPrefix_DropsSessionDirectory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Put(ctx, "sess1/q1.mp3", []byte("a"), "audio/mpeg")
	_, _ = s.Put(ctx, "sess1/q2.mp3", []byte("b"), "audio/mpeg")
	_, _ = s.Put(ctx, "sess2/q1.mp3", []byte("c"), "audio/mpeg")

	if err := s.DeleteByPrefix(ctx, "sess1/"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "sess1")); !os.IsNotExist(err) {
		t.Fatal("sess1 directory should be gone")
	}
	if _, err := os.Stat(filepath.Join(s.root, "sess2", "q1.mp3")); err != nil {
		t.Fatalf("sess2 audio should survive: %v", err)
	}
}

func TestDeleteByPrefix_PartialName(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Put(ctx, "sess1/q7.mp3", []byte("a"), "audio/mpeg")
	_, _ = s.Put(ctx, "sess1/q7_medium.mp3", []byte("b"), "audio/mpeg")
	_, _ = s.Put(ctx, "sess1/q8.mp3", []byte("c"), "audio/mpeg")

	if err := s.DeleteByPrefix(ctx, "sess1/q7"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "sess1", "q7.mp3")); !os.IsNotExist(err) {
		t.Fatal("q7.mp3 should be gone")
	}
	if _, err := os.Stat(filepath.Join(s.root, "sess1", "q7_medium.mp3")); !os.IsNotExist(err) {
		t.Fatal("q7_medium.mp3 should be gone")
	}
	if _, err := os.Stat(filepath.Join(s.root, "sess1", "q8.mp3")); err != nil {
		t.Fatalf("q8.mp3 should survive: %v", err)
	}
}

func TestDeleteByPrefix_MissingDirIsNoop(t *testing.T) {
	s := newStore(t)
	if err := s.DeleteByPrefix(context.Background(), "ghost/"); err != nil {
		t.Fatalf("DeleteByPrefix on missing dir: %v", err)
	}
}
