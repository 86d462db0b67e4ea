// Package sources provides file-backed entity collections for the URL index
// and a watcher that turns edits to those files into index work.
//
// A collection file is a JSON array of entities:
//
//	[
//	  {"id": "req-1", "url": "https://api.example.com/users?page=2", "type": "saved"},
//	  {"id": "req-2", "url": "https://api.example.com/health"}
//	]
//
// Entities without a type take the category name.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/index"
)

// JSONFile is an index.Source backed by a JSON array on disk.
type JSONFile struct {
	Category string
	Path     string
}

var _ index.Source = JSONFile{}

// FromConfig builds one JSONFile per configured category, sorted by
// category.
func FromConfig(files map[string]string) []JSONFile {
	out := make([]JSONFile, 0, len(files))
	for category, path := range files {
		out = append(out, JSONFile{Category: category, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Load reads the collection. A missing file is an empty collection.
func (f JSONFile) Load(ctx context.Context) ([]index.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("source_file_missing",
				slog.String("category", f.Category),
				slog.String("path", f.Path))
			return []index.Record{}, nil
		}
		return nil, fmt.Errorf("read %s collection: %w", f.Category, err)
	}

	var records []index.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, uierrors.ValidationError(
			fmt.Sprintf("invalid %s collection file: %s", f.Category, filepath.Base(f.Path)), err).
			WithDetail("path", f.Path).
			WithSuggestion("the file must be a JSON array of {\"id\", \"url\", \"type\"} objects")
	}

	for i := range records {
		if records[i].Type == "" {
			records[i].Type = f.Category
		}
	}
	return records, nil
}
