// Package resolver turns a user supplied URL into the items it references and
// lists the downloadable renditions of each item.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

// Source is one platform the pipeline can download from.
type Source interface {
	// Platform is the name stored in media.Item.Platform.
	Platform() string
	// Supports reports whether host belongs to the platform.
	Supports(host string) bool
	// Identify checks that u carries a platform identifier without
	// contacting the platform.
	Identify(u *url.URL) error
	Resolve(ctx context.Context, u *url.URL, mode media.CollectionMode) (media.Listing, error)
	Streams(ctx context.Context, item media.Item) ([]media.Stream, error)
	StreamURL(ctx context.Context, item media.Item, stream media.Stream) (string, error)
}

// Registry routes URLs to sources by host and items by platform name.
type Registry struct {
	sources []Source
}

func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Validate checks a raw link the way Resolve would, without any network call.
func (r *Registry) Validate(rawURL string) error {
	_, _, err := r.route(rawURL)
	return err
}

// Resolve materializes every item of the link. Single mode yields exactly one
// item, Collection mode zero or more.
func (r *Registry) Resolve(ctx context.Context, rawURL string, mode media.CollectionMode) (media.Listing, error) {
	src, u, err := r.route(rawURL)
	if err != nil {
		return media.Listing{}, err
	}
	ctx, log := logging.NewContextSL(ctx, "platform", src.Platform())
	log.Infof("Resolving %s link %q", mode, u.String())
	listing, err := src.Resolve(ctx, u, mode)
	if err != nil {
		return media.Listing{}, err
	}
	for i := range listing.Items {
		listing.Items[i].Index = i + 1
		listing.Items[i].Platform = src.Platform()
	}
	if mode == media.Single && len(listing.Items) != 1 {
		return media.Listing{}, fmt.Errorf("%w: expected one item, got %d", media.ErrResolution, len(listing.Items))
	}
	log.Infof("Resolved %q with %d items", listing.Title, len(listing.Items))
	return listing, nil
}

func (r *Registry) Streams(ctx context.Context, item media.Item) ([]media.Stream, error) {
	src, err := r.byPlatform(item.Platform)
	if err != nil {
		return nil, err
	}
	return src.Streams(ctx, item)
}

func (r *Registry) StreamURL(ctx context.Context, item media.Item, stream media.Stream) (string, error) {
	src, err := r.byPlatform(item.Platform)
	if err != nil {
		return "", err
	}
	return src.StreamURL(ctx, item, stream)
}

func (r *Registry) route(rawURL string) (Source, *url.URL, error) {
	req, err := media.NewRequest(rawURL, media.Audio, media.Single)
	if err != nil {
		return nil, nil, err
	}
	u, err := url.Parse(req.SourceURL())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", media.ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	for _, src := range r.sources {
		if src.Supports(host) {
			if err := src.Identify(u); err != nil {
				return nil, nil, err
			}
			return src, u, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: unsupported host %q", media.ErrInvalidURL, host)
}

func (r *Registry) byPlatform(platform string) (Source, error) {
	for _, src := range r.sources {
		if src.Platform() == platform {
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w: no source for platform %q", media.ErrResolution, platform)
}

// hostIn reports whether host equals one of domains or is a subdomain of it.
func hostIn(host string, domains ...string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
