package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/driveimport/internal/config"
	"github.com/kiranshivaraju/driveimport/pkg/drivequery"
	"github.com/kiranshivaraju/driveimport/pkg/models"
	"golang.org/x/time/rate"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
)

// Sentinel errors for Drive client failures.
var (
	ErrDriveUnreachable = errors.New("google drive unreachable")
	ErrDriveRequest     = errors.New("google drive request error")
	ErrDriveTimeout     = errors.New("google drive timeout")
	ErrInvalidFolder    = errors.New("invalid folder locator")
)

// Client is the interface for reading images out of a Drive folder.
type Client interface {
	ListImages(ctx context.Context, folderLocator string) ([]models.WorkItem, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// APIClient implements Client with the Drive v3 API and an API key.
// Every API call first waits on a shared rate limiter.
type APIClient struct {
	service  *drivev3.Service
	limiter  *rate.Limiter
	pageSize int64
	queries  drivequery.QueryBuilder
}

// NewAPIClient creates a Drive client. cfg.BaseURL overrides the API endpoint.
func NewAPIClient(ctx context.Context, cfg config.DriveConfig) (*APIClient, error) {
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &transport.APIKey{Key: cfg.APIKey},
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}

	return &APIClient{
		service:  svc,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		pageSize: int64(pageSize),
	}, nil
}

// ListImages returns every image directly inside the folder, following page tokens.
func (c *APIClient) ListImages(ctx context.Context, folderLocator string) ([]models.WorkItem, error) {
	folderID := drivequery.FolderID(folderLocator)
	if folderID == "" {
		return nil, ErrInvalidFolder
	}
	query := c.queries.BuildImageQuery(folderID)

	items := []models.WorkItem{}
	pageToken := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDriveTimeout, err)
		}

		call := c.service.Files.List().
			Q(query).
			PageSize(c.pageSize).
			Fields(googleapi.Field(drivequery.ImageFields)).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return nil, classifyError(err)
		}
		for _, f := range list.Files {
			items = append(items, models.WorkItem{
				ExternalID:   f.Id,
				Name:         f.Name,
				DeclaredSize: f.Size,
				MimeType:     f.MimeType,
			})
		}

		if list.NextPageToken == "" {
			return items, nil
		}
		pageToken = list.NextPageToken
	}
}

// Download streams the file content. The caller closes the returned body.
func (c *APIClient) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriveTimeout, err)
	}

	resp, err := c.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, classifyError(err)
	}
	return resp.Body, nil
}

// classifyError maps transport and API errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrDriveTimeout, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", ErrDriveRequest, apiErr.Code, apiErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDriveTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrDriveUnreachable, err)
}

// Compile-time check that APIClient implements Client.
var _ Client = (*APIClient)(nil)
