package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ReportName is the blob name of the run report next to the result file.
const ReportName = "report.json"

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
	".json": "application/json",
}

// ResultPath returns the blob path of an artifact of a run.
func ResultPath(runID, name string) string {
	return path.Join("results", runID, name)
}

// ContentType returns the content type for a file name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// RunLocation points at the uploaded artifacts of a run.
type RunLocation struct {
	ResultURL string `json:"resultUrl"`
	ReportURL string `json:"reportUrl"`
}

// ResultUploader publishes result files and run reports.
type ResultUploader struct {
	blob   BlobStorage
	logger *zap.Logger
}

// NewResultUploader creates an uploader.
func NewResultUploader(blob BlobStorage, logger *zap.Logger) *ResultUploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultUploader{blob: blob, logger: logger}
}

// UploadRun uploads the result file at filePath and the JSON encoding of report
// under results/<runID>/.
func (u *ResultUploader) UploadRun(ctx context.Context, runID, filePath string, report any) (*RunLocation, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}
	name := filepath.Base(filePath)
	metadata := map[string]string{
		"run_id":    runID,
		"file_name": name,
	}

	resultURL, err := u.blob.Upload(ctx, ResultPath(runID, name), data, ContentType(name), metadata)
	if err != nil {
		return nil, err
	}

	reportData, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode run report: %w", err)
	}
	reportURL, err := u.blob.Upload(ctx, ResultPath(runID, ReportName), reportData, ContentType(ReportName), metadata)
	if err != nil {
		return nil, err
	}

	u.logger.Info("Uploaded run results",
		zap.String("run_id", runID),
		zap.String("result_url", resultURL),
		zap.String("report_url", reportURL))

	return &RunLocation{ResultURL: resultURL, ReportURL: reportURL}, nil
}
