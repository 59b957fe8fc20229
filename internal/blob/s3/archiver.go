package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// ReportArchiver writes each terminal TradeReport as a JSON object under
// {prefix}/{request_id}.json and reads it back for lookups that miss the
// primary store.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewReportArchiver creates a ReportArchiver. reader may be nil when only
// writes are needed.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *ReportArchiver {
	return &ReportArchiver{
		writer: writer,
		reader: reader,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ReportPath returns the object key for a request id.
func (a *ReportArchiver) ReportPath(requestID string) string {
	return path.Join(a.prefix, requestID+".json")
}

// ArchiveReport uploads the report. Reports already archived are skipped.
func (a *ReportArchiver) ArchiveReport(ctx context.Context, report domain.TradeReport) error {
	if report.RequestID == "" {
		return fmt.Errorf("s3blob: archive report: empty request id")
	}
	key := a.ReportPath(report.RequestID)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("s3blob: archive report %s: %w", report.RequestID, err)
		}
		if exists {
			return nil
		}
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("s3blob: marshal report %s: %w", report.RequestID, err)
	}
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive report %s: %w", report.RequestID, err)
	}
	return nil
}

// LoadReport reads an archived report. It returns domain.ErrNotFound when the
// object is missing or no reader is configured.
func (a *ReportArchiver) LoadReport(ctx context.Context, requestID string) (domain.TradeReport, error) {
	if a.reader == nil {
		return domain.TradeReport{}, domain.ErrNotFound
	}
	body, err := a.reader.Get(ctx, a.ReportPath(requestID))
	if err != nil {
		return domain.TradeReport{}, err
	}
	defer body.Close()

	var report domain.TradeReport
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return domain.TradeReport{}, fmt.Errorf("s3blob: decode report %s: %w", requestID, err)
	}
	return report, nil
}

// Compile-time interface check.
var _ domain.ReportArchiver = (*ReportArchiver)(nil)
