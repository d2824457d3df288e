// Package document loads text submitted for de-identification.
package document

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// MaxSize bounds how much text one document may carry.
const MaxSize = 10 << 20

var (
	ErrTooLarge = errors.New("document exceeds size limit")
	ErrNotText  = errors.New("document is not valid UTF-8 text")
)

// Document holds loaded text with metadata that is safe to audit. Text is
// the only field that may contain PHI.
type Document struct {
	Path      string
	Hash      string // "sha256:<hex>"
	Text      string
	Size      int
	LineCount int
}

// Load reads a document from path, or from stdin when path is "-".
func Load(path string) (*Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(os.Stdin, MaxSize+1))
	} else {
		data, err = readFile(path)
	}
	if err != nil {
		return nil, err
	}
	return FromBytes(path, data)
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return data, nil
}

// FromBytes builds a Document from raw content.
func FromBytes(path string, data []byte) (*Document, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, MaxSize)
	}
	if !utf8.Valid(data) {
		return nil, ErrNotText
	}
	sum := sha256.Sum256(data)
	raw := string(data)
	return &Document{
		Path:      path,
		Hash:      fmt.Sprintf("sha256:%x", sum),
		Text:      raw,
		Size:      len(data),
		LineCount: countLines(raw),
	}, nil
}

// countLines does not count the empty element after a final newline.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
