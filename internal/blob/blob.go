package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/driveimport/internal/config"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrUpload = errors.New("blob upload failed")
	ErrDelete = errors.New("blob delete failed")
)

const (
	ProviderAWS   = "aws"
	ProviderLocal = "local"
)

// Object describes content written to a sink.
type Object struct {
	Key      string
	Path     string
	Provider string
	Size     int64
	Checksum string
}

// Sink is durable content storage. Put returns once the content is persisted.
type Sink interface {
	Provider() string
	Put(ctx context.Context, name, contentType string, body io.Reader) (*Object, error)
	Delete(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

// NewSink builds the sink selected by cfg.Provider.
func NewSink(ctx context.Context, cfg config.StorageConfig) (Sink, error) {
	switch cfg.Provider {
	case ProviderAWS:
		return NewS3Sink(ctx, cfg.AWS)
	case ProviderLocal:
		return NewLocalSink(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %q", cfg.Provider)
	}
}

// ObjectKey prefixes the file name with a fresh uuid so repeated names never collide.
func ObjectKey(name string) string {
	return uuid.NewString() + "_" + sanitizeName(name)
}

// KeyFromPath returns the object key addressed by a stored path or URL.
func KeyFromPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Base(strings.ReplaceAll(p, `\`, "/"))
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '?' || r == '#' {
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// digestReader hashes and counts everything read through it.
type digestReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

func newDigestReader(r io.Reader) *digestReader {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return &digestReader{r: r, h: h}
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.size += int64(n)
	}
	return n, err
}

func (d *digestReader) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
