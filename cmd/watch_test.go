package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// lockedBuffer is a bytes.Buffer safe to read while the watcher writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("level", "l", "", "")
	cmd.Flags().Bool("explain", false, "")
	cmd.Flags().Bool("no-color", false, "")
	cmd.Flags().Bool("exit-on-remove", false, "")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for watcher")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchExitOnRemove(t *testing.T) {
	setupTestConfig(t, "text")
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("Please write a poem"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out, errOut lockedBuffer
	cmd := &cobra.Command{}
	addWatchFlags(cmd)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	_ = cmd.Flags().Set("exit-on-remove", "true")

	done := make(chan error, 1)
	go func() { done <- runWatch(cmd, []string{path}) }()

	waitFor(t, func() bool { return strings.Contains(out.String(), "Write a poem") })
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWatch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runWatch() did not return after the file was removed")
	}
	if !strings.Contains(errOut.String(), "was removed, stopping") {
		t.Errorf("unexpected stderr:\n%s", errOut.String())
	}
	if !strings.Contains(out.String(), "==> "+path+" <==") {
		t.Errorf("expected file header in output:\n%s", out.String())
	}
}

func TestWatchMissingFile(t *testing.T) {
	setupTestConfig(t, "text")

	var out, errOut bytes.Buffer
	cmd := newTestCmd(&out, &errOut, addWatchFlags)

	if err := runWatch(cmd, []string{filepath.Join(t.TempDir(), "nope.md")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
