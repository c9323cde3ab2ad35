package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalSink writes content under a directory on the local filesystem.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalSink{dir: abs}, nil
}

func (s *LocalSink) Provider() string { return ProviderLocal }

// Put writes to a temp file and renames it into place so readers never see partial content.
func (s *LocalSink) Put(ctx context.Context, name, contentType string, body io.Reader) (*Object, error) {
	key := ObjectKey(name)
	dest := filepath.Join(s.dir, key)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer os.Remove(tmp.Name())

	digest := newDigestReader(body)
	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: digest}); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: write %s: %v", ErrUpload, key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %v", ErrUpload, key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("%w: rename %s: %v", ErrUpload, key, err)
	}

	return &Object{
		Key:      key,
		Path:     dest,
		Provider: ProviderLocal,
		Size:     digest.size,
		Checksum: digest.Sum(),
	}, nil
}

// Delete only removes files inside the sink directory. A missing file is not an error.
func (s *LocalSink) Delete(ctx context.Context, path string) error {
	target := filepath.Join(s.dir, KeyFromPath(path))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrDelete, err)
	}
	return nil
}

func (s *LocalSink) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
