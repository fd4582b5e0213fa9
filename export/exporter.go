package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/use-agent/rtcapture/models"
)

// Tabular export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const tableName = "ratings"

// Exporter flattens a run's records into tabular files.
type Exporter struct {
	formats []string
}

// NewExporter creates an Exporter for the given formats. An empty list
// means CSV only.
func NewExporter(formats []string) *Exporter {
	if len(formats) == 0 {
		formats = []string{FormatCSV}
	}
	return &Exporter{formats: formats}
}

// Export writes one tabular file per configured format and returns their
// paths. A run without records produces no file and no error.
func (e *Exporter) Export(rc *models.RunContext) ([]string, error) {
	records := rc.Records()
	if len(records) == 0 {
		slog.Info("no records captured, skipping tabular export")
		return nil, nil
	}

	rows := make([]models.ExportRow, len(records))
	for i, rec := range records {
		rows[i] = rec.Flatten()
	}

	var paths []string
	for _, format := range e.formats {
		var (
			data []byte
			err  error
		)
		switch format {
		case FormatCSV:
			data, err = encodeCSV(models.ExportColumns, rows)
		case FormatXLSX:
			data, err = encodeXLSX(tableName, models.ExportColumns, rows)
		default:
			err = fmt.Errorf("unknown format %q", format)
		}
		if err != nil {
			return paths, models.NewScrapeError(models.ErrCodeWriteFailed, "encode "+format+" export", err)
		}

		name := rc.RunArtifactName(tableName + "." + format)
		if err := WriteFileAtomic(rc.OutDir, name, data); err != nil {
			return paths, models.NewScrapeError(models.ErrCodeWriteFailed, "write "+name, err)
		}
		path := filepath.Join(rc.OutDir, name)
		slog.Info("export written", "path", path, "rows", len(rows))
		paths = append(paths, path)
	}
	return paths, nil
}

func encodeCSV(header []string, rows []models.ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Summary is the per-run report written next to the exports.
type Summary struct {
	RunID      string              `json:"run_id"`
	Timestamp  string              `json:"timestamp"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Total      int                 `json:"total"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	Records    int                 `json:"records"`
	Exports    []string            `json:"exports"`
	URLs       []models.URLOutcome `json:"urls"`
}

// NewSummary snapshots rc at finishedAt.
func NewSummary(rc *models.RunContext, exports []string, finishedAt time.Time) *Summary {
	outcomes := rc.Outcomes()
	succeeded, failed := rc.Counts()
	if exports == nil {
		exports = []string{}
	}
	if outcomes == nil {
		outcomes = []models.URLOutcome{}
	}
	return &Summary{
		RunID:      rc.RunID,
		Timestamp:  rc.Timestamp,
		StartedAt:  rc.StartedAt,
		FinishedAt: finishedAt,
		Total:      len(outcomes),
		Succeeded:  succeeded,
		Failed:     failed,
		Records:    len(rc.Records()),
		Exports:    exports,
		URLs:       outcomes,
	}
}

// WriteSummary writes "{stamp}__summary.json" and returns its path.
func WriteSummary(rc *models.RunContext, s *Summary) (string, error) {
	name := rc.RunArtifactName("summary.json")
	if err := WriteJSON(rc.OutDir, name, s); err != nil {
		return "", models.NewScrapeError(models.ErrCodeWriteFailed, "write "+name, err)
	}
	return filepath.Join(rc.OutDir, name), nil
}
