package db

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// maxLineSize bounds one JSONL document
const maxLineSize = 4 * 1024 * 1024

// ImportResult summarizes a JSONL import
type ImportResult struct {
	Imported int
	Skipped  int
}

// ImportJSONL reads one document per line from r into store. Malformed or
// invalid lines are skipped and logged; store failures abort the import.
func ImportJSONL(ctx context.Context, r io.Reader, store Storage) (ImportResult, error) {
	logger := obs.Logger("import")
	var res ImportResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var doc video.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("skipping malformed line")
			res.Skipped++
			continue
		}
		if err := video.Validate(doc); err != nil {
			logger.Warn().Err(err).Int("line", line).Str("doc_id", doc.ID).Msg("skipping invalid document")
			res.Skipped++
			continue
		}
		if _, err := store.Put(ctx, doc); err != nil {
			return res, fmt.Errorf("failed to import line %d: %w", line, err)
		}
		res.Imported++
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("failed to read input: %w", err)
	}
	return res, nil
}

// ExportJSONL writes every stored document to w, one per line
func ExportJSONL(ctx context.Context, store Storage, w io.Writer) (int, error) {
	docs, err := store.FetchChangedSince(ctx, time.Time{})
	if err != nil {
		return 0, err
	}

	encoder := json.NewEncoder(w)
	for i := range docs {
		if err := encoder.Encode(docs[i]); err != nil {
			return i, fmt.Errorf("failed to encode document %s: %w", docs[i].ID, err)
		}
	}
	return len(docs), nil
}
