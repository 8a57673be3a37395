// Package utils provides (some) utilities for chaptervoice.
package utils

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

var markdownExtensions = []string{".md", ".mdown", ".mkdn", ".mkd", ".markdown"}

// ExpandPath expands a tilde prefix and environment variables in path.
func ExpandPath(path string) string {
	s, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return os.ExpandEnv(s)
}

// IsMarkdownFile reports whether the filename carries a markdown
// extension. Markdown sources are stripped of formatting before
// segmentation; anything else is read as plain text.
func IsMarkdownFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, v := range markdownExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// RemoveFrontmatter removes YAML frontmatter from markdown content so
// metadata keys are never read aloud.
func RemoveFrontmatter(content []byte) []byte {
	if !bytes.HasPrefix(content, []byte("---\n")) && !bytes.HasPrefix(content, []byte("---\r\n")) {
		return content
	}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return content
	}
	offset := len(scanner.Bytes()) + 1
	for scanner.Scan() {
		line := scanner.Text()
		offset += len(scanner.Bytes()) + 1
		if strings.TrimSpace(line) == "---" {
			if offset > len(content) {
				offset = len(content)
			}
			return content[offset:]
		}
	}
	// Unterminated frontmatter: leave the document alone.
	return content
}
