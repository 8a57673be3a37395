package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAssetWatcherNotifiesOnModelFile(t *testing.T) {
	dir := t.TempDir()
	w, err := WatchAssets(dir)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "en_US-amy-medium.onnx"), []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-w.Changes():
		if name != "en_US-amy-medium.onnx" {
			t.Errorf("changed file = %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestAssetWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := WatchAssets(dir)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "download.partial"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-w.Changes():
		t.Errorf("unexpected notification for %q", name)
	case <-time.After(900 * time.Millisecond):
	}
}

func TestAssetWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	w, err := WatchAssets(dir)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	// A download writes several files in quick succession.
	for _, name := range []string{"a.onnx", "a.onnx.json", "b.onnx"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := 0
	deadline := time.After(3 * time.Second)
	for got == 0 {
		select {
		case <-w.Changes():
			got++
		case <-deadline:
			t.Fatal("no notification for burst")
		}
	}
	// The burst should have settled into very few notifications.
	select {
	case <-w.Changes():
		got++
	case <-time.After(900 * time.Millisecond):
	}
	if got > 2 {
		t.Errorf("burst produced %d notifications", got)
	}
}

func TestAssetWatcherSkipsMissingDir(t *testing.T) {
	w, err := WatchAssets(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("watch should tolerate missing dirs: %v", err)
	}
	w.Close()
}
