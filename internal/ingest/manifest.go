package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// FileRecord describes one source file as seen by a run.
type FileRecord struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Encoding string `json:"encoding"`
}

// Manifest is the scan-stage artifact pinning a book's input files.
type Manifest struct {
	BookID    string       `json:"book_id"`
	SourceDir string       `json:"source_dir"`
	FileCount int          `json:"file_count"`
	Files     []FileRecord `json:"files"`
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// SortedSourceFiles returns the book's HTML export files in name order.
func SortedSourceFiles(sourceDir string) ([]string, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("read source directory %q: %w", sourceDir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".htm", ".html":
			files = append(files, filepath.Join(sourceDir, entry.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no .htm files under %q", sourceDir)
	}
	return files, nil
}

// ReadTextEncodingSafe reads a file as text, falling back through
// UTF-8 (BOM-aware), Windows-1256, and Latin-1. It returns the decoded text
// and the name of the encoding that produced it.
func ReadTextEncodingSafe(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read %q: %w", path, err)
	}
	text, encoding := decodeText(data)
	return text, encoding, nil
}

func decodeText(data []byte) (string, string) {
	if bytes.HasPrefix(data, utf8BOM) {
		trimmed := bytes.TrimPrefix(data, utf8BOM)
		if utf8.Valid(trimmed) {
			return string(trimmed), "utf-8-sig"
		}
	}
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	if decoded, err := charmap.Windows1256.NewDecoder().Bytes(data); err == nil && !bytes.ContainsRune(decoded, utf8.RuneError) {
		return string(decoded), "cp1256"
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// Latin-1 maps every byte; decode errors cannot occur in practice.
		return string(data), "utf-8-replace"
	}
	return string(decoded), "latin-1"
}

// BuildManifest hashes and encoding-probes every source file.
func BuildManifest(bookID, sourceDir string) (*Manifest, error) {
	files, err := SortedSourceFiles(sourceDir)
	if err != nil {
		return nil, err
	}

	records := make([]FileRecord, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		digest := sha256.Sum256(data)
		_, encoding := decodeText(data)
		records = append(records, FileRecord{
			Path:     filepath.Base(path),
			Size:     int64(len(data)),
			SHA256:   hex.EncodeToString(digest[:]),
			Encoding: encoding,
		})
	}

	return &Manifest{
		BookID:    bookID,
		SourceDir: sourceDir,
		FileCount: len(records),
		Files:     records,
	}, nil
}
