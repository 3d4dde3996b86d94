package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"bindery/internal/ingest"
	"bindery/internal/scan"
)

// LineOrigin maps one derived document line back to its source file line.
type LineOrigin struct {
	File   string `json:"file"`
	LineNo int    `json:"line_no"`
}

// injectionKey addresses a source line for heading replacement.
type injectionKey struct {
	file   string
	lineNo int
}

// deriveMarkdownLines flattens the book's source files into one line
// sequence, replacing each accepted proposal's line with its anchor form.
// The returned origins slice is parallel to the lines.
func deriveMarkdownLines(files []string, accepted []ProposedInjection) ([]string, []LineOrigin, error) {
	injections := make(map[injectionKey]ProposedInjection, len(accepted))
	for _, proposal := range accepted {
		injections[injectionKey{file: proposal.File, lineNo: proposal.LineNo}] = proposal
	}

	var (
		lines   []string
		origins []LineOrigin
	)
	for _, path := range files {
		raw, _, err := ingest.ReadTextEncodingSafe(path)
		if err != nil {
			return nil, nil, fmt.Errorf("derive %s: %w", path, err)
		}
		fileName := filepath.Base(path)
		for index, rawLine := range strings.Split(raw, "\n") {
			lineNo := index + 1
			if proposal, hit := injections[injectionKey{file: fileName, lineNo: lineNo}]; hit {
				lines = append(lines, strings.Repeat("#", proposal.Level())+" "+proposal.Title())
			} else {
				lines = append(lines, scan.VisibleText(rawLine))
			}
			origins = append(origins, LineOrigin{File: fileName, LineNo: lineNo})
		}
	}
	return lines, origins, nil
}

