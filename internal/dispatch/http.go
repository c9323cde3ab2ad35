package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/driveimport/pkg/models"
)

const (
	batchesPath  = "/api/v1/worker/batches"
	outcomesPath = "/api/v1/import/update-status"
)

// HTTPDispatcher posts batches to a worker service.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDispatcher(workerURL string, client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDispatcher{baseURL: strings.TrimRight(workerURL, "/"), client: client}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, batch models.Batch) error {
	return postJSON(ctx, d.client, d.baseURL+batchesPath, batch, http.StatusAccepted)
}

// HTTPReporter posts item outcomes to the coordinator service.
type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPReporter(coordinatorURL string, client *http.Client) *HTTPReporter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPReporter{baseURL: strings.TrimRight(coordinatorURL, "/"), client: client}
}

func (r *HTTPReporter) Report(ctx context.Context, outcome models.Outcome) error {
	return postJSON(ctx, r.client, r.baseURL+outcomesPath, outcome, http.StatusOK)
}

// postJSON sends body and expects want. Client errors other than 408 and 429 are
// wrapped with ErrRejected so retries stop.
func postJSON(ctx context.Context, client *http.Client, url string, body any, want int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", ErrRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == want {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return err
}
