// Package fetcher downloads the selected rendition of an item into the
// request workspace.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
	"github.com/vm-affekt/mediafetch/internal/progress"
	"go.uber.org/zap"
)

// DefaultChunkSize is the size of one ranged request. Downloading in
// multiple chunks is much faster than one long response:
// https://github.com/kkdai/youtube/pull/190
const DefaultChunkSize int64 = 10_000_000

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// ErrUnexpectedStatusCode is returned on unexpected HTTP status codes
type ErrUnexpectedStatusCode int

func (err ErrUnexpectedStatusCode) Error() string {
	return fmt.Sprintf("unexpected status code: %d", err)
}

var errTruncated = errors.New("stream ended before its declared length")

// StreamSource lists the renditions of an item and yields their URLs.
type StreamSource interface {
	Streams(ctx context.Context, item media.Item) ([]media.Stream, error)
	StreamURL(ctx context.Context, item media.Item, stream media.Stream) (string, error)
}

type Fetcher struct {
	source     StreamSource
	httpClient *http.Client
	timeout    time.Duration
	chunkSize  int64
}

// New creates a Fetcher. A zero timeout means the transfer is bounded only
// by the caller's context.
func New(source StreamSource, httpClient *http.Client, timeout time.Duration) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{
		source:     source,
		httpClient: httpClient,
		timeout:    timeout,
		chunkSize:  DefaultChunkSize,
	}
}

// Fetch downloads item into dir. The returned file is synced and closed.
// Nothing is left in dir when Fetch fails.
func (f *Fetcher) Fetch(ctx context.Context, item media.Item, kind media.OutputKind, dir string, counter *progress.Counter) (media.StagedFile, error) {
	if f.timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if counter == nil {
		counter = progress.NewCounter(0)
	}
	ctx, log := logging.NewContextSL(ctx, "item_index", item.Index)

	streams, err := f.source.Streams(ctx, item)
	if err != nil {
		return media.StagedFile{}, sourceErr(ctx, err)
	}
	stream, err := SelectStream(streams, kind)
	if err != nil {
		return media.StagedFile{}, err
	}
	log.Infow("Selected stream",
		"mime_type", stream.MimeType,
		"bitrate", stream.Bitrate,
		"height", stream.Height,
		"content_length", stream.ContentLength,
	)
	streamURL, err := f.source.StreamURL(ctx, item, stream)
	if err != nil {
		return media.StagedFile{}, sourceErr(ctx, err)
	}

	container := stream.Container()
	name := fmt.Sprintf("%03d-source%s", item.Index, containerExt(container))
	partPath := filepath.Join(dir, "."+name+".part")
	finalPath := filepath.Join(dir, name)

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return media.StagedFile{}, fmt.Errorf("%w: failed to create staging file: %w", media.ErrWrite, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = file.Close()
			if err := os.Remove(partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warnf("Failed to remove partial file %q: %v", partPath, err)
			}
		}
	}()

	start := time.Now()
	counter.SetContentLen(stream.ContentLength)
	written, err := f.download(ctx, streamURL, stream.ContentLength, fileWriter{file}, counter)
	if err != nil {
		return media.StagedFile{}, f.classify(ctx, err)
	}
	if err := file.Sync(); err != nil {
		return media.StagedFile{}, fmt.Errorf("%w: failed to sync staging file: %w", media.ErrWrite, err)
	}
	if err := file.Close(); err != nil {
		return media.StagedFile{}, fmt.Errorf("%w: failed to close staging file: %w", media.ErrWrite, err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return media.StagedFile{}, fmt.Errorf("%w: failed to rename staging file: %w", media.ErrWrite, err)
	}
	ok = true
	log.Infow("Stream downloaded",
		zap.String("size", humanize.IBytes(uint64(written))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return media.StagedFile{Path: finalPath, Container: container, Size: written}, nil
}

func (f *Fetcher) classify(ctx context.Context, err error) error {
	if errors.Is(err, media.ErrWrite) || errors.Is(err, media.ErrUpstreamUnavailable) || errors.Is(err, media.ErrNetwork) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return media.Canceled(ctxErr, media.ErrNetwork)
	}
	return fmt.Errorf("%w: %w", media.ErrNetwork, err)
}

// sourceErr classifies a stream lookup that ended with ctx: a deadline is a
// network timeout and a cancellation stays cancelled, whatever category
// the source gave it.
func sourceErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return media.Canceled(ctxErr, media.ErrNetwork)
	}
	return err
}

// download writes the body at streamURL to w: in ranged chunks when the
// length is known, with one request otherwise.
func (f *Fetcher) download(ctx context.Context, streamURL string, contentLength int64, w io.Writer, counter *progress.Counter) (int64, error) {
	w = io.MultiWriter(w, counter)
	if contentLength <= 0 {
		// some streams don't have length information
		return f.downloadOnce(ctx, streamURL, w, counter)
	}
	return f.downloadChunked(ctx, streamURL, contentLength, w)
}

func (f *Fetcher) downloadOnce(ctx context.Context, streamURL string, w io.Writer, counter *progress.Counter) (int64, error) {
	resp, err := f.get(ctx, streamURL, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		counter.SetContentLen(resp.ContentLength)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, err
	}
	if resp.ContentLength > 0 && n < resp.ContentLength {
		return n, errTruncated
	}
	return n, nil
}

func (f *Fetcher) downloadChunked(ctx context.Context, streamURL string, contentLength int64, w io.Writer) (int64, error) {
	log := logging.FromContextS(ctx)
	// Loads a chunk and returns the written bytes.
	loadChunk := func(pos int64) (int64, bool, error) {
		end := pos + f.chunkSize - 1
		if end >= contentLength {
			end = contentLength - 1
		}
		resp, err := f.get(ctx, streamURL, fmt.Sprintf("bytes=%d-%d", pos, end))
		if err != nil {
			return 0, false, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusPartialContent:
			n, err := io.Copy(w, resp.Body)
			return n, false, err
		case http.StatusOK:
			// The server ignored the range and sent everything.
			if pos != 0 {
				return 0, false, statusError(resp.StatusCode)
			}
			log.Info("Server ignored Range header, reading the whole body")
			n, err := io.Copy(w, resp.Body)
			return n, true, err
		}
		return 0, false, statusError(resp.StatusCode)
	}

	var pos int64
	for pos < contentLength {
		written, whole, err := loadChunk(pos)
		pos += written
		if err != nil {
			return pos, fmt.Errorf("chunk at %d: %w", pos-written, err)
		}
		if whole {
			break
		}
		if written == 0 {
			return pos, errTruncated
		}
	}
	if pos < contentLength {
		return pos, errTruncated
	}
	return pos, nil
}

func (f *Fetcher) get(ctx context.Context, streamURL, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", media.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	return f.httpClient.Do(req)
}

// statusError maps responses of expired or revoked stream URLs to
// UpstreamUnavailable and anything else to NetworkError.
func statusError(code int) error {
	switch code {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %w", media.ErrUpstreamUnavailable, ErrUnexpectedStatusCode(code))
	}
	return fmt.Errorf("%w: %w", media.ErrNetwork, ErrUnexpectedStatusCode(code))
}

// fileWriter marks local write failures so they are not mistaken for
// transfer failures.
type fileWriter struct {
	f *os.File
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %w", media.ErrWrite, err)
	}
	return n, nil
}
