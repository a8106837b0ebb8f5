package health

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ExportBlob is a serialized history export ready to be sent as a file.
type ExportBlob struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Export serializes every persisted result in [start, end] as JSON or CSV.
// The records and their order match History for the same window.
func (s *Service) Export(ctx context.Context, format string, start, end *time.Time) (*ExportBlob, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	records := []core.PersistedResult{}
	err := s.walkHistory(ctx, start, end, func(page []core.PersistedResult) error {
		records = append(records, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	blob := &ExportBlob{Filename: "health-check-export." + format}
	switch format {
	case FormatCSV:
		blob.ContentType = "text/csv"
		blob.Data, err = EncodeCSV(records)
	default:
		blob.ContentType = "application/json"
		blob.Data, err = json.MarshalIndent(records, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return blob, nil
}

// EncodeCSV flattens records into CSV. The header is the first record's
// JSON keys; nested values are written as inline JSON.
func EncodeCSV(records []core.PersistedResult) ([]byte, error) {
	var buf bytes.Buffer
	if len(records) == 0 {
		return buf.Bytes(), nil
	}

	first, err := json.Marshal(records[0])
	if err != nil {
		return nil, err
	}
	header, err := objectKeys(first)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		row := make([]string, len(header))
		for i, key := range header {
			row[i] = csvCell(fields[key])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("expected JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func csvCell(raw json.RawMessage) string {
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
