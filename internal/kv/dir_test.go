package kv

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDirBackend_RoundTrip(t *testing.T) {
	backend, err := OpenDir(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	ctx := context.Background()

	if _, err := backend.Get(ctx, "recaps"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := backend.SetMany(ctx, map[string][]byte{"a/b": []byte(`{"x":1}`)}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}
	got, err := backend.Get(ctx, "a/b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"x":1}` {
		t.Errorf("got %s", got)
	}

	if err := backend.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := backend.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
}

func TestDirBackend_WatchReportsExternalWrites(t *testing.T) {
	dir := t.TempDir()
	backend, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 16)
	err = backend.Watch(ctx, func(key string, value []byte, deleted bool) {
		if deleted {
			changes <- key + ":deleted"
			return
		}
		changes <- key + ":" + string(value)
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Own writes are not reported.
	if err := backend.SetMany(ctx, map[string][]byte{"own": []byte(`1`)}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"trackingEnabled":false}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case change := <-changes:
			if change == "own:1" {
				t.Fatal("own write was reported as external")
			}
			if change == `settings:{"trackingEnabled":false}` {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for external change")
		}
	}
}

func TestDirBackend_WatchLogsErrors(t *testing.T) {
	var logs bytes.Buffer
	backend, err := OpenDir(t.TempDir(), WithDirLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}

	events := make(chan fsnotify.Event)
	errs := make(chan error, 1)
	errs <- errors.New("queue overflow")
	close(errs)

	backend.watchLoop(context.Background(), events, errs, func(string, []byte, bool) {})

	if out := logs.String(); !strings.Contains(out, "queue overflow") {
		t.Errorf("watcher error not logged:\n%s", out)
	}
}
