package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
	}{
		{
			name:          "empty connection string",
			containerName: "results",
			errContains:   "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net",
			errContains:      "container name is required",
		},
		{
			name:             "missing key",
			connectionString: "AccountName=test",
			containerName:    "results",
			errContains:      "account name and key are required",
		},
		{
			name:             "account key",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net",
			containerName:    "results",
		},
		{
			name:             "development storage",
			connectionString: "UseDevelopmentStorage=true",
			containerName:    "results",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, nil)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=acc; AccountKey=a2V5==;;BlobEndpoint=http://localhost:10000/acc;broken")
	assert.Equal(t, "acc", params["AccountName"])
	assert.Equal(t, "a2V5==", params["AccountKey"])
	assert.Equal(t, "http://localhost:10000/acc", params["BlobEndpoint"])
	assert.NotContains(t, params, "broken")
}

func TestAzureBlobClientUploadAgainstLocalEndpoint(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
		headers  = map[string]http.Header{}
		body     []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		if r.URL.Query().Get("restype") != "container" {
			body, _ = io.ReadAll(r.Body)
			headers[path.Base(r.URL.Path)] = r.Header.Clone()
		}
		mu.Unlock()
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	conn := "AccountName=devstoreaccount1;AccountKey=a2V5;BlobEndpoint=" + server.URL
	client, err := NewAzureBlobClient(conn, "results", zap.NewNop())
	require.NoError(t, err)

	url, err := client.Upload(context.Background(), "results/run-1/out.csv", []byte("a,b\n"), "text/csv", map[string]string{"run_id": "run-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, server.URL+"/results/"))
	assert.True(t, strings.HasSuffix(url, "out.csv"))

	_, err = client.Upload(context.Background(), "results/run-1/report.json", []byte("{}"), "application/json", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PUT /results",
		"PUT /results/results/run-1/out.csv",
		"PUT /results/results/run-1/report.json",
	}, requests)
	assert.Equal(t, "{}", string(body))

	assert.Equal(t, "text/csv", headers["out.csv"].Get("x-ms-blob-content-type"))
	assert.Equal(t, "run-1", headers["out.csv"].Get("x-ms-meta-run_id"))
	assert.Equal(t, "application/json", headers["report.json"].Get("x-ms-blob-content-type"))
	assert.Empty(t, headers["report.json"].Get("x-ms-meta-run_id"))
}

type upload struct {
	path        string
	contentType string
	data        []byte
	metadata    map[string]string
}

type fakeBlob struct {
	uploads []upload
	err     error
}

func (f *fakeBlob) Upload(ctx context.Context, blobPath string, data []byte, contentType string, metadata map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, upload{path: blobPath, contentType: contentType, data: data, metadata: metadata})
	return "https://blob.example/" + blobPath, nil
}

func TestResultUploaderUploadRun(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, os.WriteFile(file, []byte("xlsx-bytes"), 0o600))

	blob := &fakeBlob{}
	uploader := NewResultUploader(blob, nil)

	loc, err := uploader.UploadRun(context.Background(), "run-7", file, map[string]int{"total": 3})
	require.NoError(t, err)
	assert.Equal(t, "https://blob.example/results/run-7/out.xlsx", loc.ResultURL)
	assert.Equal(t, "https://blob.example/results/run-7/report.json", loc.ReportURL)

	require.Len(t, blob.uploads, 2)
	assert.Equal(t, "xlsx-bytes", string(blob.uploads[0].data))
	assert.Equal(t, ContentType("out.xlsx"), blob.uploads[0].contentType)
	assert.Equal(t, map[string]string{"run_id": "run-7", "file_name": "out.xlsx"}, blob.uploads[0].metadata)

	var report map[string]int
	require.NoError(t, json.Unmarshal(blob.uploads[1].data, &report))
	assert.Equal(t, 3, report["total"])
	assert.Equal(t, "application/json", blob.uploads[1].contentType)
}

func TestResultUploaderErrors(t *testing.T) {
	uploader := NewResultUploader(&fakeBlob{}, nil)
	_, err := uploader.UploadRun(context.Background(), "", "x.csv", nil)
	assert.Error(t, err)

	_, err = uploader.UploadRun(context.Background(), "run", filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.ErrorContains(t, err, "read result file")

	file := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o600))
	failing := NewResultUploader(&fakeBlob{err: errors.New("denied")}, nil)
	_, err = failing.UploadRun(context.Background(), "run", file, nil)
	assert.ErrorContains(t, err, "denied")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", ContentType("a.CSV"))
	assert.Equal(t, "application/octet-stream", ContentType("a.bin"))
	assert.Equal(t, "results/r/a.csv", ResultPath("r", "a.csv"))
}
