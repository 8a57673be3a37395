package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// writeSupertonicAssets lays out the full core asset tree plus the
// named voice styles.
func writeSupertonicAssets(t *testing.T, dir string, styles ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "onnx"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "voice_styles"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, rel := range coreAssets {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, s := range styles {
		if err := os.WriteFile(filepath.Join(dir, "voice_styles", s+".json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSupertonicCheckVoiceReady(t *testing.T) {
	t.Run("missing core assets", func(t *testing.T) {
		s := NewSupertonic(SupertonicConfig{AssetsDir: t.TempDir()})
		r, err := s.CheckVoiceReady(context.Background(), "supertonic:adam")
		if err != nil {
			t.Fatal(err)
		}
		if r != ttypes.VoiceMissing {
			t.Errorf("readiness = %v, want missing", r)
		}
	})

	t.Run("missing style only", func(t *testing.T) {
		dir := t.TempDir()
		writeSupertonicAssets(t, dir)
		s := NewSupertonic(SupertonicConfig{AssetsDir: dir})
		r, err := s.CheckVoiceReady(context.Background(), "supertonic:adam")
		if err != nil {
			t.Fatal(err)
		}
		if r != ttypes.VoiceMissing {
			t.Errorf("readiness = %v, want missing", r)
		}
	})

	t.Run("all present", func(t *testing.T) {
		dir := t.TempDir()
		writeSupertonicAssets(t, dir, "adam")
		s := NewSupertonic(SupertonicConfig{AssetsDir: dir})
		r, err := s.CheckVoiceReady(context.Background(), "supertonic:adam")
		if err != nil {
			t.Fatal(err)
		}
		if r != ttypes.VoiceReady {
			t.Errorf("readiness = %v, want ready", r)
		}
	})
}

func TestSupertonicEnsureCoreReadyReportsMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewSupertonic(SupertonicConfig{AssetsDir: dir, BinaryPath: "sh"})
	if err := s.EnsureCoreReady(context.Background(), ""); err == nil {
		t.Error("expected error for missing assets")
	}

	writeSupertonicAssets(t, dir)
	if err := s.EnsureCoreReady(context.Background(), ""); err != nil {
		t.Errorf("core should be ready: %v", err)
	}
}

func TestSupertonicInfo(t *testing.T) {
	s := NewSupertonic(SupertonicConfig{})
	info := s.Info()
	if info.SampleRate != 44100 {
		t.Errorf("sample rate = %d", info.SampleRate)
	}
	if info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("format = %d ch, %d bit", info.Channels, info.BitDepth)
	}
	if info.IsOnline {
		t.Error("supertonic should be offline")
	}
}
