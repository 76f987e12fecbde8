package application

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ahrav/go-verifier/internal/domain"
)

// documentPattern selects the plain-text files a run reads.
const documentPattern = "*.txt"

// LoadDocuments reads the target and source documents of a run. The target
// is the first *.txt file in targetDir in lexical order; any other files
// there are ignored. Every *.txt file in sourceDir is a source.
func LoadDocuments(targetDir, sourceDir string) (domain.Document, []domain.Document, error) {
	targets, err := readDocuments(targetDir)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("read target directory: %w", err)
	}
	if len(targets) == 0 {
		return domain.Document{}, nil, fmt.Errorf("%w in %s", domain.ErrNoTargetDocument, targetDir)
	}

	sources, err := readDocuments(sourceDir)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("read source directory: %w", err)
	}
	if len(sources) == 0 {
		return domain.Document{}, nil, fmt.Errorf("%w in %s", domain.ErrNoSourceDocuments, sourceDir)
	}

	return targets[0], sources, nil
}

// readDocuments loads every plain-text file in dir, sorted by name.
func readDocuments(dir string) ([]domain.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	// Glob returns matches in lexical order.
	paths, err := filepath.Glob(filepath.Join(dir, documentPattern))
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(paths))
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, domain.Document{Name: filepath.Base(path), Content: string(content)})
	}
	return docs, nil
}

// documentNames returns the names of docs in order.
func documentNames(docs []domain.Document) []string {
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Name
	}
	return names
}
