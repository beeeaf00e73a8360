package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func drain(t *testing.T, s *File) [][]string {
	t.Helper()
	var got [][]string
	for {
		batch, err := s.Next(context.Background())
		if err == io.EOF {
			return got
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		ids := make([]string, 0, len(batch))
		for _, rec := range batch {
			id, _ := rec.String("id")
			ids = append(ids, id)
		}
		got = append(got, ids)
	}
}

func TestFile_JSONArray(t *testing.T) {
	t.Parallel()

	path := writeSource(t, `[{"id": "a"}, {"id": "b"}, {"id": "c"}]`)
	s, err := NewFile(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got := drain(t, s)
	if len(got) != 2 || len(got[0]) != 2 || len(got[1]) != 1 {
		t.Fatalf("batches = %v, want [[a b] [c]]", got)
	}
	if got[0][0] != "a" || got[1][0] != "c" {
		t.Errorf("batches = %v", got)
	}
}

func TestFile_NDJSON(t *testing.T) {
	t.Parallel()

	path := writeSource(t, "{\"id\": \"a\"}\n{\"id\": \"b\"}\n{\"id\": \"c\"}\n")
	s, err := NewFile(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got := drain(t, s)
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("batches = %v, want one batch of 3", got)
	}
}

func TestFile_Empty(t *testing.T) {
	t.Parallel()

	s, err := NewFile(writeSource(t, ""), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("Next = %v, want io.EOF", err)
	}
}

func TestFile_MissingFile(t *testing.T) {
	t.Parallel()

	s, err := NewFile(filepath.Join(t.TempDir(), "absent.json"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Next = %v, want ErrNotExist", err)
	}
}

func TestFile_CancelledContext(t *testing.T) {
	t.Parallel()

	s, err := NewFile(writeSource(t, `[{"id": "a"}]`), 10)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next = %v, want context.Canceled", err)
	}
}

func TestNewFile_BadBatchRows(t *testing.T) {
	t.Parallel()

	if _, err := NewFile("x.json", 0); err == nil {
		t.Fatal("batchRows 0 accepted")
	}
}
