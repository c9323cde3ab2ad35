package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/driveimport/internal/api"
	"github.com/kiranshivaraju/driveimport/internal/api/handler"
	"github.com/kiranshivaraju/driveimport/internal/blob"
	"github.com/kiranshivaraju/driveimport/internal/dispatch"
	"github.com/kiranshivaraju/driveimport/internal/importer"
	"github.com/kiranshivaraju/driveimport/internal/jobs"
	"github.com/kiranshivaraju/driveimport/internal/registry"
	"github.com/kiranshivaraju/driveimport/internal/worker"
	"github.com/kiranshivaraju/driveimport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fixtures ────────────────────────────────────────────────────────────────

type folder map[string][]models.WorkItem

func (f folder) ListImages(_ context.Context, locator string) ([]models.WorkItem, error) {
	return f[locator], nil
}

type driveFiles struct {
	missing map[string]bool
}

func (d driveFiles) Download(_ context.Context, id string) (io.ReadCloser, error) {
	if d.missing[id] {
		return nil, errors.New("404 file not found")
	}
	return io.NopCloser(strings.NewReader("bytes of " + id)), nil
}

type records struct {
	mu   sync.Mutex
	rows map[string]*models.ImportedRecord
	seq  int64
}

func (r *records) GetByExternalID(_ context.Context, id string) (*models.ImportedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.rows[id]; ok {
		return rec, nil
	}
	return nil, registry.ErrNotFound
}

func (r *records) Register(_ context.Context, rec models.ImportedRecord) (*models.ImportedRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[rec.ExternalID]; ok {
		return existing, false, nil
	}
	r.seq++
	rec.ID = r.seq
	r.rows[rec.ExternalID] = &rec
	return &rec, true, nil
}

func files(n int) []models.WorkItem {
	out := make([]models.WorkItem, n)
	for i := range out {
		out[i] = models.WorkItem{ExternalID: fmt.Sprintf("f%02d", i), Name: fmt.Sprintf("p%02d.jpg", i), MimeType: "image/jpeg"}
	}
	return out
}

type testServer struct {
	url   string
	pool  *worker.Pool
	coord *importer.Coordinator
	regs  *records
}

// newTestServer runs coordinator and worker routes on one server, talking to
// each other over the HTTP transports with retries, as two services would.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	srv := httptest.NewUnstartedServer(nil)
	url := "http://" + srv.Listener.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}
	retry := dispatch.Retry{MaxRetries: 3, InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}

	sink, err := blob.NewLocalSink(t.TempDir())
	require.NoError(t, err)
	regs := &records{rows: map[string]*models.ImportedRecord{
		"f00": {ID: 900, ExternalID: "f00"},
		"f01": {ID: 901, ExternalID: "f01"},
	}, seq: 901}

	coord := importer.NewCoordinator(
		folder{"folders/ten": files(10), "folders/empty": nil},
		jobs.NewMemoryStore(),
		dispatch.WithRetry(dispatch.NewHTTPDispatcher(url, client), retry),
		importer.Options{BatchSize: 3},
	)
	pool := worker.NewPool(
		worker.NewProcessor(driveFiles{missing: map[string]bool{"f02": true}}, sink, regs),
		dispatch.WithReportRetry(dispatch.NewHTTPReporter(url, client), retry),
		nil,
		worker.Config{Capacity: 4},
	)
	pool.Start(context.Background())

	srv.Config.Handler = api.NewRouter(api.Dependencies{
		SubmitImportHandler: handler.NewSubmitImportHandler(coord),
		ImportStatusHandler: handler.NewImportStatusHandler(coord),
		UpdateStatusHandler: handler.NewUpdateStatusHandler(coord),
		AcceptBatchHandler:  handler.NewAcceptBatchHandler(pool),
		ProcessItemHandler:  handler.NewProcessItemHandler(pool),
	})
	srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Wait(ctx)
		_ = pool.Shutdown(ctx)
		srv.Close()
	})

	return &testServer{url: url, pool: pool, coord: coord, regs: regs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.url+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

// ─── contract ────────────────────────────────────────────────────────────────

func TestContract_ImportRunsToCompletion(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/api/v1/import/google-drive",
		map[string]string{"folder_url": "https://drive.google.com/drive/folders/ten"})
	require.Equal(t, http.StatusAccepted, status)
	started := body["data"].(map[string]any)
	jobID := started["job_id"].(string)
	assert.Equal(t, float64(10), started["total_images"])

	var job map[string]any
	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/v1/import/status/"+jobID, nil)
		job = body["data"].(map[string]any)
		return job["status"] == models.JobStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, float64(9), job["processed"])
	assert.Equal(t, float64(1), job["failed"])
	assert.Len(t, job["imported"].([]any), 7)
	assert.NotEmpty(t, job["completed_at"])
}

func TestContract_EmptyFolder(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/api/v1/import/google-drive",
		map[string]string{"folder_url": "https://drive.google.com/drive/folders/empty"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, importer.NoImagesMessage, body["data"].(map[string]any)["message"])
}

func TestContract_UnknownJob(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodGet, "/api/v1/import/status/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "JOB_NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestContract_OutcomeForUnknownJobAcknowledged(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/api/v1/import/update-status",
		models.Succeeded("gone", "f1", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["ack"])
}

func TestContract_RetrySingleItem(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/api/v1/worker/items", map[string]any{
		"file_data": map[string]any{"id": "f05", "name": "p05.jpg", "mimeType": "image/jpeg"},
	})
	require.Equal(t, http.StatusOK, status)
	image := body["data"].(map[string]any)["image"].(map[string]any)
	assert.Equal(t, "f05", image["google_drive_id"])
	assert.Equal(t, blob.ProviderLocal, image["storage_provider"])

	status, body = ts.do(t, http.MethodPost, "/api/v1/worker/items", map[string]any{
		"file_data": map[string]any{"id": "f02", "name": "p02.jpg"},
	})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "ITEM_FAILED", body["error"].(map[string]any)["code"])
}

func TestContract_DuplicateBatchAcceptedOnce(t *testing.T) {
	ts := newTestServer(t)
	batch := models.Batch{
		ID:    "fixed-batch",
		JobID: "job-from-another-coordinator",
		Items: []models.WorkItem{{ExternalID: "f09", Name: "p09.jpg", MimeType: "image/jpeg"}},
	}

	status, first := ts.do(t, http.MethodPost, "/api/v1/worker/batches", batch)
	require.Equal(t, http.StatusAccepted, status)
	status, second := ts.do(t, http.MethodPost, "/api/v1/worker/batches", batch)
	require.Equal(t, http.StatusAccepted, status)

	assert.Equal(t, false, first["data"].(map[string]any)["duplicate"])
	assert.Equal(t, true, second["data"].(map[string]any)["duplicate"])
}
