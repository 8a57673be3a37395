package utils

import (
	"strings"
	"testing"
)

func TestIsMarkdownFile(t *testing.T) {
	for name, want := range map[string]bool{
		"chapter-01.md":    true,
		"notes.markdown":   true,
		"README.MD":        true,
		"chapter-01.txt":   false,
		"chapter-01":       false,
		"archive.md.bak":   false,
		"weird.mkdn":       true,
		"weirder.mdown":    true,
		"unrelated.mdx":    false,
		"dir.md/plainfile": false,
	} {
		if got := IsMarkdownFile(name); got != want {
			t.Errorf("IsMarkdownFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRemoveFrontmatter(t *testing.T) {
	t.Run("strips leading block", func(t *testing.T) {
		in := "---\ntitle: Chapter One\nvoice: piper:amy\n---\nIt was a dark night.\n"
		got := string(RemoveFrontmatter([]byte(in)))
		if got != "It was a dark night.\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("no frontmatter untouched", func(t *testing.T) {
		in := "Just a paragraph.\n---\nA divider, not frontmatter.\n"
		if got := string(RemoveFrontmatter([]byte(in))); got != in {
			t.Errorf("content changed: %q", got)
		}
	})

	t.Run("unterminated block untouched", func(t *testing.T) {
		in := "---\ntitle: never closed\nbody text\n"
		if got := string(RemoveFrontmatter([]byte(in))); got != in {
			t.Errorf("content changed: %q", got)
		}
	})
}

func TestExpandPath(t *testing.T) {
	t.Setenv("CHAPTERVOICE_TEST_DIR", "/tmp/books")
	got := ExpandPath("$CHAPTERVOICE_TEST_DIR/one")
	if got != "/tmp/books/one" {
		t.Errorf("env expansion: got %q", got)
	}
	if strings.HasPrefix(ExpandPath("~/books"), "~") {
		t.Error("tilde was not expanded")
	}
}
