package app

import (
	"context"

	"github.com/vm-affekt/mediafetch/internal/downloader"
	"github.com/vm-affekt/mediafetch/internal/media"
)

type DownloadService interface {
	Download(ctx context.Context, req media.Request, observe downloader.Observer) (*downloader.Result, error)
}

// LinkValidator checks that a link belongs to a supported platform without
// touching the network.
type LinkValidator interface {
	Validate(rawURL string) error
}
