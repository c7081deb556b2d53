// Package downloader runs the download pipeline of one request:
// resolve, then fetch and transcode every item, then package.
package downloader

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
	"github.com/vm-affekt/mediafetch/internal/progress"
	"go.uber.org/multierr"
)

type Resolver interface {
	Resolve(ctx context.Context, rawURL string, mode media.CollectionMode) (media.Listing, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, item media.Item, kind media.OutputKind, dir string, counter *progress.Counter) (media.StagedFile, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, staged media.StagedFile, kind media.OutputKind, dir, fileName string) (media.Artifact, error)
}

type Packager interface {
	Package(ctx context.Context, artifacts []media.Artifact, dir, title string) (media.Artifact, error)
}

type Options struct {
	// StagingDir holds one workspace directory per running request.
	StagingDir string
	// KeepFailedStaging leaves the workspace of a failed request on disk.
	KeepFailedStaging bool
}

type Service struct {
	resolver   Resolver
	fetcher    Fetcher
	transcoder Transcoder
	packager   Packager
	opts       Options
}

func New(resolver Resolver, fetcher Fetcher, transcoder Transcoder, packager Packager, opts Options) *Service {
	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}
	return &Service{
		resolver:   resolver,
		fetcher:    fetcher,
		transcoder: transcoder,
		packager:   packager,
		opts:       opts,
	}
}

// ItemOutcome records what happened to one item of the listing.
type ItemOutcome struct {
	Item     media.Item
	FileName string
	Err      error
}

func (o ItemOutcome) Succeeded() bool { return o.Err == nil }

// Reason names the error category of a skipped item.
func (o ItemOutcome) Reason() string { return media.KindOf(o.Err) }

// Result is a finished download. The artifact lives in the request
// workspace until Close is called.
type Result struct {
	Artifact media.Artifact
	Title    string
	Outcomes []ItemOutcome

	closeOnce sync.Once
	closeErr  error
	workspace string
}

func (r *Result) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

func (r *Result) Skipped() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Close removes the request workspace, the artifact included.
func (r *Result) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = os.RemoveAll(r.workspace)
	})
	return r.closeErr
}

// Download runs req to completion. observe, if not nil, is called on every
// state transition from the calling goroutine.
func (s *Service) Download(ctx context.Context, req media.Request, observe Observer) (res *Result, err error) {
	id := uuid.New().String()
	ctx, log := logging.NewContextSL(ctx,
		"download_id", id,
		"source_url", req.SourceURL(),
		"kind", req.Kind().String(),
		"mode", req.Mode().String(),
	)
	tracker := newTracker(observe)
	start := time.Now()

	workspace, err := s.makeWorkspace(id)
	if err != nil {
		tracker.fail(err)
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		tracker.fail(err)
		log.Errorw("Download failed", "reason", media.KindOf(err), "error", err)
		if s.opts.KeepFailedStaging {
			log.Warnf("Keeping workspace %q of the failed download", workspace)
			return
		}
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			log.Errorf("Failed to remove workspace %q: %v", workspace, rmErr)
		}
	}()

	tracker.set(Progress{State: StateResolving})
	listing, err := s.resolver.Resolve(ctx, req.SourceURL(), req.Mode())
	if err != nil {
		return nil, err
	}
	title := listing.Title
	if title == "" && len(listing.Items) > 0 {
		title = listing.Items[0].Title
	}

	var (
		artifacts []media.Artifact
		outcomes  []ItemOutcome
		causes    []error
		names     = media.NewNameSet()
		total     = len(listing.Items)
	)
	for _, item := range listing.Items {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, media.Canceled(ctxErr, media.ErrCancelled)
		}
		fileName := names.Unique(media.FileName(item.Title, req.Kind()))
		artifact, err := s.processItem(ctx, tracker, item, total, req.Kind(), workspace, fileName)
		if err != nil {
			if req.Mode() == media.Single || isTerminal(ctx, err) {
				return nil, err
			}
			log.Warnw("Item skipped",
				"item_index", item.Index,
				"item_title", item.Title,
				"reason", media.KindOf(err),
				"error", err,
			)
			outcomes = append(outcomes, ItemOutcome{Item: item, Err: err})
			causes = append(causes, fmt.Errorf("item %d %q: %w", item.Index, item.Title, err))
			continue
		}
		outcomes = append(outcomes, ItemOutcome{Item: item, FileName: artifact.FileName})
		artifacts = append(artifacts, artifact)
	}

	if len(artifacts) == 0 && len(causes) > 0 {
		return nil, fmt.Errorf("%w: all %d items failed: %w", media.ErrPackaging, len(causes), multierr.Combine(causes...))
	}

	tracker.set(Progress{State: StatePackaging, Total: total, Title: title})
	final, err := s.packager.Package(ctx, artifacts, workspace, title)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Artifact:  final,
		Title:     title,
		Outcomes:  outcomes,
		workspace: workspace,
	}
	tracker.set(Progress{State: StateDone, Total: total, Title: title})
	log.Infow("Download done",
		"artifact", final.FileName,
		"content_type", final.ContentType,
		"size", final.Size,
		"succeeded", res.Succeeded(),
		"skipped", res.Skipped(),
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (s *Service) processItem(
	ctx context.Context,
	tracker *tracker,
	item media.Item,
	total int,
	kind media.OutputKind,
	workspace, fileName string,
) (media.Artifact, error) {
	counter := progress.NewCounter(0)
	tracker.set(Progress{State: StateFetching, Item: item.Index, Total: total, Title: item.Title, Counter: counter})
	staged, err := s.fetcher.Fetch(ctx, item, kind, workspace, counter)
	if err != nil {
		return media.Artifact{}, err
	}
	tracker.set(Progress{State: StateTranscoding, Item: item.Index, Total: total, Title: item.Title, Counter: counter})
	return s.transcoder.Transcode(ctx, staged, kind, workspace, fileName)
}

func (s *Service) makeWorkspace(id string) (string, error) {
	if err := os.MkdirAll(s.opts.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create staging dir: %w", media.ErrWrite, err)
	}
	workspace := filepath.Join(s.opts.StagingDir, "mediafetch-"+id)
	if err := os.Mkdir(workspace, 0o700); err != nil {
		return "", fmt.Errorf("%w: failed to create workspace: %w", media.ErrWrite, err)
	}
	return workspace, nil
}

// isTerminal reports errors that end a collection instead of skipping one
// item: cancellation, and a missing transcoder that every item would hit.
func isTerminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, media.ErrCancelled) ||
		errors.Is(err, media.ErrTranscoderNotFound)
}
