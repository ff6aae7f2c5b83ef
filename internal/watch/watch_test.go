package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const waitFor = 3 * time.Second

func createPromptFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	return path
}

// startWatcher runs a Watcher in the background and returns the channel
// of delivered contents and the channel carrying Run's result.
func startWatcher(t *testing.T, ctx context.Context, opts Options) (<-chan string, <-chan error) {
	t.Helper()

	changes := make(chan string, 16)
	opts.OnChange = func(content string) error {
		changes <- content
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- New(opts, nil).Run(ctx) }()
	return changes, done
}

func expectChange(t *testing.T, changes <-chan string, want string) {
	t.Helper()
	select {
	case got := <-changes:
		if got != want {
			t.Fatalf("OnChange content = %q, want %q", got, want)
		}
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestWatcherDeliversInitialAndWrites(t *testing.T) {
	path := createPromptFile(t, "Please write a poem")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, done := startWatcher(t, ctx, Options{FilePath: path, Initial: true})
	expectChange(t, changes, "Please write a poem")

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("Please write a song"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectChange(t, changes, "Please write a song")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	path := createPromptFile(t, "same")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, _ := startWatcher(t, ctx, Options{FilePath: path, Initial: true})
	expectChange(t, changes, "same")

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("different"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectChange(t, changes, "different")
}

func TestWatcherFollowsAtomicSave(t *testing.T) {
	path := createPromptFile(t, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, _ := startWatcher(t, ctx, Options{FilePath: path, Initial: true, FollowRemove: true})
	expectChange(t, changes, "v1")

	time.Sleep(100 * time.Millisecond)
	tmp := filepath.Join(filepath.Dir(path), ".prompt.txt.swp")
	if err := os.WriteFile(tmp, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	expectChange(t, changes, "v2")
}

func TestWatcherStopsWhenFileRemoved(t *testing.T) {
	path := createPromptFile(t, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, done := startWatcher(t, ctx, Options{FilePath: path})

	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrFileRemoved) {
			t.Fatalf("Run() error = %v, want ErrFileRemoved", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Run did not return after file removal")
	}
}

func TestWatcherOnChangeErrorStopsRun(t *testing.T) {
	path := createPromptFile(t, "boom")
	wantErr := errors.New("stop")

	w := New(Options{
		FilePath: path,
		Initial:  true,
		OnChange: func(string) error { return wantErr },
	}, nil)

	if err := w.Run(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestWatcherMissingFile(t *testing.T) {
	w := New(Options{FilePath: filepath.Join(t.TempDir(), "nope.txt"), OnChange: func(string) error { return nil }}, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
