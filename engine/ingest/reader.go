package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/WessleyAI/issuescope/engine/domain"
)

// maxLine bounds a single JSON Lines record.
const maxLine = 4 << 20

// Rejection is a dataset row that failed schema validation or decoding.
// Position is the 1-based array index or line number.
type Rejection struct {
	Position int
	Err      error
}

// ReadFile loads an import file. See Read.
func ReadFile(path string) ([]domain.ImportRecord, []Rejection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a JSON array or JSON Lines stream of dataset rows. Each row is
// validated against the import schema; invalid rows are returned as
// rejections and do not abort the read.
func Read(r io.Reader) ([]domain.ImportRecord, []Rejection, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: read: %w", err)
	}

	var raws []json.RawMessage
	var positions []int
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&raws); err != nil {
			return nil, nil, fmt.Errorf("ingest: decode array: %w", err)
		}
		for i := range raws {
			positions = append(positions, i+1)
		}
	} else {
		sc := bufio.NewScanner(br)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			raws = append(raws, append(json.RawMessage(nil), b...))
			positions = append(positions, line)
		}
		if err := sc.Err(); err != nil {
			return nil, nil, fmt.Errorf("ingest: scan line %d: %w", line+1, err)
		}
	}

	var (
		records  []domain.ImportRecord
		rejected []Rejection
	)
	for i, raw := range raws {
		if err := domain.ValidateImportJSON(raw); err != nil {
			rejected = append(rejected, Rejection{Position: positions[i], Err: err})
			continue
		}
		var rec domain.ImportRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			rejected = append(rejected, Rejection{Position: positions[i], Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, rejected, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
