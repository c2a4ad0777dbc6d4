package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DirectorySource ingests a directory tree into a Store. Plain text,
// markdown and PDF files are supported; everything else is skipped.
type DirectorySource struct {
	store  *Store
	logger *slog.Logger
}

// IngestReport summarizes one directory ingestion run.
type IngestReport struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed,omitempty"`
}

func NewDirectorySource(store *Store, logger *slog.Logger) *DirectorySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectorySource{store: store, logger: logger.With("component", "rag.directory")}
}

// Ingest walks root and adds every supported file as a document keyed by its
// slash-separated relative path. Individual file failures are reported, not
// fatal.
func (d *DirectorySource) Ingest(ctx context.Context, root string) (*IngestReport, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	report := &IngestReport{}

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if !supportedExtension(path) {
			report.Skipped++
			return nil
		}

		content, err := extractText(path)
		if err != nil {
			d.logger.Warn("failed to extract file", "path", path, "error", err)
			report.Failed = append(report.Failed, path)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		docID := filepath.ToSlash(rel)

		chunks, err := d.store.AddDocument(ctx, Document{
			ID:      docID,
			Content: content,
			Metadata: map[string]string{
				"source": "directory",
				"path":   docID,
			},
		})
		if err != nil {
			d.logger.Warn("failed to ingest file", "path", path, "error", err)
			report.Failed = append(report.Failed, path)
			return nil
		}

		report.Documents++
		report.Chunks += chunks
		return nil
	})
	if err != nil {
		return report, err
	}

	d.logger.Info("directory ingested", "root", root,
		"documents", report.Documents, "chunks", report.Chunks,
		"skipped", report.Skipped, "failed", len(report.Failed))
	return report, nil
}

func supportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".pdf":
		return true
	}
	return false
}

func extractText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDF(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return buf.String(), nil
}
