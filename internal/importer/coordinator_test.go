package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/driveimport/internal/blob"
	"github.com/kiranshivaraju/driveimport/internal/dispatch"
	"github.com/kiranshivaraju/driveimport/internal/jobs"
	"github.com/kiranshivaraju/driveimport/internal/registry"
	"github.com/kiranshivaraju/driveimport/internal/worker"
	"github.com/kiranshivaraju/driveimport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnumerator struct {
	items []models.WorkItem
	err   error
	calls atomic.Int32
}

func (e *fakeEnumerator) ListImages(ctx context.Context, locator string) ([]models.WorkItem, error) {
	e.calls.Add(1)
	return e.items, e.err
}

type recordingDispatcher struct {
	mu      sync.Mutex
	batches []models.Batch
	err     error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, b models.Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	return d.err
}

func (d *recordingDispatcher) recorded() []models.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Batch{}, d.batches...)
}

func workItems(n int) []models.WorkItem {
	out := make([]models.WorkItem, n)
	for i := range out {
		out[i] = models.WorkItem{ExternalID: fmt.Sprintf("file-%d", i), Name: fmt.Sprintf("img-%d.png", i), MimeType: "image/png"}
	}
	return out
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func waitDispatches(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestSubmit_EmptyLocator(t *testing.T) {
	enum := &fakeEnumerator{}
	c := NewCoordinator(enum, jobs.NewMemoryStore(), &recordingDispatcher{}, Options{})

	_, err := c.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.Zero(t, enum.calls.Load())
}

func TestSubmit_NoImagesCreatesNoJob(t *testing.T) {
	enum := &fakeEnumerator{items: []models.WorkItem{}}
	d := &recordingDispatcher{}
	store := jobs.NewMemoryStore()
	c := NewCoordinator(enum, store, d, Options{NewID: func() string { return "job-x" }})

	res, err := c.Submit(context.Background(), "https://drive.google.com/drive/folders/abc")
	require.NoError(t, err)
	assert.Empty(t, res.JobID)
	assert.Zero(t, res.Total)
	assert.Equal(t, NoImagesMessage, res.Message)

	_, err = store.Get(context.Background(), "job-x")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.Empty(t, d.recorded())
}

func TestSubmit_EnumerationError(t *testing.T) {
	cause := errors.New("drive unreachable")
	c := NewCoordinator(&fakeEnumerator{err: cause}, jobs.NewMemoryStore(), &recordingDispatcher{}, Options{})

	_, err := c.Submit(context.Background(), "folder")
	assert.ErrorIs(t, err, cause)
}

func TestSubmit_CreatesJobAndDispatchesBatches(t *testing.T) {
	enum := &fakeEnumerator{items: workItems(250)}
	d := &recordingDispatcher{}
	store := jobs.NewMemoryStore()
	c := NewCoordinator(enum, store, d, Options{BatchSize: 100, NewID: sequentialIDs()})

	res, err := c.Submit(context.Background(), "folder")
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.JobID)
	assert.Equal(t, 250, res.Total)
	assert.Equal(t, int32(1), enum.calls.Load())

	job, err := c.Status(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, 250, job.Total)
	assert.Zero(t, job.Processed)

	waitDispatches(t, c)
	batches := d.recorded()
	require.Len(t, batches, 3)

	sizes := map[int]int{}
	ids := map[string]bool{}
	for _, b := range batches {
		sizes[len(b.Items)]++
		ids[b.ID] = true
		assert.Equal(t, res.JobID, b.JobID)
	}
	assert.Equal(t, map[int]int{100: 2, 50: 1}, sizes)
	assert.Len(t, ids, 3, "each batch carries its own id")
}

func TestSubmit_DispatchFailureIsSwallowed(t *testing.T) {
	d := &recordingDispatcher{err: dispatch.ErrDispatchFailed}
	c := NewCoordinator(&fakeEnumerator{items: workItems(3)}, jobs.NewMemoryStore(), d, Options{})

	res, err := c.Submit(context.Background(), "folder")
	require.NoError(t, err)
	waitDispatches(t, c)

	job, err := c.Status(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
}

func TestSubmit_DispatchOutlivesRequestContext(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewCoordinator(&fakeEnumerator{items: workItems(1)}, jobs.NewMemoryStore(), d, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Submit(ctx, "folder")
	require.NoError(t, err)
	cancel()

	waitDispatches(t, c)
	assert.Len(t, d.recorded(), 1)
}

func TestStatus_UnknownJob(t *testing.T) {
	c := NewCoordinator(&fakeEnumerator{}, jobs.NewMemoryStore(), &recordingDispatcher{}, Options{})
	_, err := c.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestReportOutcome(t *testing.T) {
	store := jobs.NewMemoryStore()
	c := NewCoordinator(&fakeEnumerator{items: workItems(2)}, store, &recordingDispatcher{}, Options{})
	res, err := c.Submit(context.Background(), "folder")
	require.NoError(t, err)
	waitDispatches(t, c)
	ctx := context.Background()

	t.Run("unknown job is ignored", func(t *testing.T) {
		assert.NoError(t, c.ReportOutcome(ctx, models.Succeeded("missing", "file-0", nil)))
	})

	t.Run("invalid outcome is rejected", func(t *testing.T) {
		err := c.ReportOutcome(ctx, models.Outcome{JobID: res.JobID, ItemID: "file-0"})
		assert.ErrorIs(t, err, jobs.ErrInvalidOutcome)
	})

	t.Run("counts each item once and completes", func(t *testing.T) {
		rec := &models.ImportedRecord{ID: 1, ExternalID: "file-0"}
		require.NoError(t, c.ReportOutcome(ctx, models.Succeeded(res.JobID, "file-0", rec)))
		require.NoError(t, c.ReportOutcome(ctx, models.Succeeded(res.JobID, "file-0", rec)))
		require.NoError(t, c.ReportOutcome(ctx, models.FailedWith(res.JobID, "file-1", "download: 404")))
		require.NoError(t, c.ReportOutcome(ctx, models.FailedWith(res.JobID, "file-9", "late")))

		job, err := c.Status(ctx, res.JobID)
		require.NoError(t, err)
		assert.Equal(t, 1, job.Processed)
		assert.Equal(t, 1, job.Failed)
		assert.Len(t, job.Imported, 1)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		assert.NotNil(t, job.CompletedAt)
	})
}

func TestPartition(t *testing.T) {
	ids := sequentialIDs()
	assert.Len(t, Partition("j", workItems(10), 3, ids), 4)
	assert.Len(t, Partition("j", workItems(10), 10, ids), 1)
	assert.Len(t, Partition("j", workItems(10), 0, ids), 1)
	assert.Empty(t, Partition("j", nil, 0, ids))
}

// --- end to end through the loopback transport ---

type memFetcher struct {
	fail map[string]bool
}

func (f memFetcher) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if f.fail[id] {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(strings.NewReader("pixels:" + id)), nil
}

type memRegistry struct {
	mu   sync.Mutex
	rows map[string]*models.ImportedRecord
	seq  int64
}

func (r *memRegistry) GetByExternalID(ctx context.Context, id string) (*models.ImportedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.rows[id]; ok {
		return rec, nil
	}
	return nil, registry.ErrNotFound
}

func (r *memRegistry) Register(ctx context.Context, rec models.ImportedRecord) (*models.ImportedRecord, bool, error) {
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

func TestImport_EndToEnd(t *testing.T) {
	sink, err := blob.NewLocalSink(t.TempDir())
	require.NoError(t, err)
	reg := &memRegistry{rows: map[string]*models.ImportedRecord{
		"file-0": {ID: 100, ExternalID: "file-0"},
		"file-1": {ID: 101, ExternalID: "file-1"},
	}, seq: 101}

	loop := dispatch.NewLoopback()
	store := jobs.NewMemoryStore()
	coord := NewCoordinator(&fakeEnumerator{items: workItems(10)}, store, loop, Options{BatchSize: 4})
	pool := worker.NewPool(
		worker.NewProcessor(memFetcher{fail: map[string]bool{"file-2": true}}, sink, reg),
		loop, nil, worker.Config{Capacity: 3},
	)
	loop.Attach(pool, coord)
	pool.Start(context.Background())

	res, err := coord.Submit(context.Background(), "https://drive.google.com/drive/folders/abc123")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)

	waitDispatches(t, coord)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	job, err := coord.Status(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 9, job.Processed)
	assert.Equal(t, 1, job.Failed)
	assert.Len(t, job.Imported, 7)
	assert.LessOrEqual(t, job.Processed+job.Failed, job.Total)
	assert.Len(t, reg.rows, 9)
}
