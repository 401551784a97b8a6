// Package s3 streams large objects from Amazon S3 and S3-compatible services
// without holding them in memory. A DownloadStream exposes an object as an
// io.ReadSeekCloser backed by ranged GET requests, fetching one chunk at a
// time on demand. Random access through Seek only costs the chunks actually
// read.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrymomot/farmbus/core/logger"
)

// defaultChunkSize is the size of a single ranged GET.
const defaultChunkSize = 1 << 20 // 1 MiB

// S3Client defines the S3 operations used by DownloadStream.
type S3Client interface {
	HeadObject(ctx context.Context, params *s3aws.HeadObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3aws.GetObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error)
}

// Option configures a DownloadStream.
type Option func(*DownloadStream)

// WithChunkSize overrides the ranged GET size. Values below one byte are
// ignored.
func WithChunkSize(n int64) Option {
	return func(d *DownloadStream) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithLogger configures structured logging for chunk fetches.
func WithLogger(log *slog.Logger) Option {
	return func(d *DownloadStream) {
		if log != nil {
			d.log = log.With(logger.Component("s3stream"))
		}
	}
}

// DownloadStream reads an S3 object through ranged GETs, one chunk at a
// time. It implements io.ReadSeekCloser. Not safe for concurrent use.
type DownloadStream struct {
	ctx    context.Context
	client S3Client
	bucket string
	key    string
	log    *slog.Logger

	size      int64
	offset    int64
	chunkSize int64

	// chunk holds the bytes [chunkStart, chunkStart+len(chunk)) of the
	// object, or nil when nothing is cached.
	chunk      []byte
	chunkStart int64

	closed bool
}

var _ io.ReadSeekCloser = (*DownloadStream)(nil)

// Open resolves the object's size and returns a stream positioned at the
// start. No object data is transferred until the first Read. The context is
// retained and bounds every subsequent chunk fetch.
func Open(ctx context.Context, client S3Client, bucket, key string, opts ...Option) (*DownloadStream, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: bucket and key are required", ErrInvalidConfig)
	}

	head, err := client.HeadObject(ctx, &s3aws.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyStorageError(err, "resolve object size")
	}

	d := &DownloadStream{
		ctx:       ctx,
		client:    client,
		bucket:    bucket,
		key:       key,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		size:      aws.ToInt64(head.ContentLength),
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Size returns the object's total length in bytes.
func (d *DownloadStream) Size() int64 {
	return d.size
}

// Read copies object bytes at the current position into p, fetching the
// containing chunk when it is not already cached. Returns io.EOF at or past
// the end of the object.
func (d *DownloadStream) Read(p []byte) (int, error) {
	if d.closed {
		return 0, ErrStreamClosed
	}
	if d.offset >= d.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !d.cached(d.offset) {
		if err := d.fetchChunk(d.offset); err != nil {
			return 0, err
		}
	}

	n := copy(p, d.chunk[d.offset-d.chunkStart:])
	d.offset += int64(n)
	return n, nil
}

// Seek repositions the stream per the io.Seeker contract. Seeking beyond the
// end of the object is allowed; the next Read returns io.EOF. A cached chunk
// survives seeking, so returning to a recently read region costs nothing.
func (d *DownloadStream) Seek(offset int64, whence int) (int64, error) {
	if d.closed {
		return 0, ErrStreamClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = d.offset + offset
	case io.SeekEnd:
		target = d.size + offset
	default:
		return 0, fmt.Errorf("%w: unknown whence %d", ErrInvalidSeek, whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidSeek, target)
	}

	d.offset = target
	return target, nil
}

// Close releases the cached chunk. Subsequent reads and seeks fail with
// ErrStreamClosed. Safe to call more than once.
func (d *DownloadStream) Close() error {
	d.closed = true
	d.chunk = nil
	return nil
}

// cached reports whether offset falls inside the cached chunk.
func (d *DownloadStream) cached(offset int64) bool {
	return d.chunk != nil && offset >= d.chunkStart && offset < d.chunkStart+int64(len(d.chunk))
}

// fetchChunk downloads the chunk-aligned range containing offset.
func (d *DownloadStream) fetchChunk(offset int64) error {
	start := (offset / d.chunkSize) * d.chunkSize
	end := min(start+d.chunkSize, d.size) - 1 // Range header is inclusive.

	out, err := d.client.GetObject(d.ctx, &s3aws.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return classifyStorageError(err, "fetch chunk")
	}
	defer func() { _ = out.Body.Close() }()

	chunk, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read chunk body: %w", err)
	}

	d.chunk = chunk
	d.chunkStart = start
	d.log.DebugContext(d.ctx, "fetched chunk",
		logger.Key("key", d.key),
		slog.Int64("start", start),
		logger.Count("bytes", len(chunk)))
	return nil
}
