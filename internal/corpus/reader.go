// Package corpus loads (principal, query) training records from audit
// history or from exported dataset files.
package corpus

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/store"
)

// Record is one corpus row in any of the supported file formats.
type Record struct {
	Username string `csv:"username" parquet:"username" json:"username"`
	Query    string `csv:"query" parquet:"query" json:"query"`
}

// FileFormat identifies a corpus file encoding.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatJSON    FileFormat = "json"
	FormatParquet FileFormat = "parquet"
	FormatUnknown FileFormat = "unknown"
)

// DetectFormat infers the corpus format from the filename extension.
func DetectFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".csv"):
		return FormatCSV
	case strings.HasSuffix(filename, ".json") || strings.HasSuffix(filename, ".jsonl"):
		return FormatJSON
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	default:
		return FormatUnknown
	}
}

// AuditReader is the store surface the corpus loader consumes.
type AuditReader interface {
	ListAuditRecords(ctx context.Context, limit int) ([]store.AuditRecord, error)
}

// FromStore builds a training corpus from the audit log, keeping only
// statements that actually executed.
func FromStore(ctx context.Context, reader AuditReader, limit int, logger *zap.Logger) ([]classifier.Sample, error) {
	records, err := reader.ListAuditRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var samples []classifier.Sample
	for _, r := range records {
		if !r.Executed {
			continue
		}
		samples = append(samples, classifier.Sample{Principal: r.Username, Query: r.QueryText})
	}

	logger.Info("Corpus loaded from audit log",
		zap.Int("audit_rows", len(records)),
		zap.Int("samples", len(samples)))
	return samples, nil
}

// FromFile loads a corpus from a CSV, JSON-lines, or Parquet export.
func FromFile(path string, logger *zap.Logger) ([]classifier.Sample, error) {
	format := DetectFormat(path)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus file: %w", err)
	}
	defer file.Close()

	var samples []classifier.Sample
	switch format {
	case FormatCSV:
		samples, err = readCSV(file, logger)
	case FormatJSON:
		samples, err = readJSON(file, logger)
	case FormatParquet:
		samples, err = readParquet(file, logger)
	default:
		return nil, fmt.Errorf("unsupported corpus format: %s", path)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Corpus loaded from file",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("samples", len(samples)))
	return samples, nil
}

func readCSV(file *os.File, logger *zap.Logger) ([]classifier.Sample, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2 // username, query

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	logger.Debug("CSV header detected", zap.Strings("columns", header))

	var samples []classifier.Sample
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("Failed to read CSV record", zap.Error(err))
			continue
		}
		if s, ok := toSample(record[0], record[1]); ok {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func readJSON(file *os.File, logger *zap.Logger) ([]classifier.Sample, error) {
	decoder := json.NewDecoder(file)

	var samples []classifier.Sample
	for {
		var record Record
		if err := decoder.Decode(&record); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to decode JSON record: %w", err)
		}
		if s, ok := toSample(record.Username, record.Query); ok {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func readParquet(file *os.File, logger *zap.Logger) ([]classifier.Sample, error) {
	reader := parquet.NewReader(file)
	defer reader.Close()

	var samples []classifier.Sample
	for {
		var record Record
		err := reader.Read(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("Failed to read Parquet record", zap.Error(err))
			continue
		}
		if s, ok := toSample(record.Username, record.Query); ok {
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func toSample(username, query string) (classifier.Sample, bool) {
	username = strings.TrimSpace(username)
	query = strings.TrimSpace(query)
	if username == "" || query == "" {
		return classifier.Sample{}, false
	}
	return classifier.Sample{Principal: username, Query: query}, true
}
