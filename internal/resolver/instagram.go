package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	sjson "github.com/bitly/go-simplejson"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

const (
	PlatformInstagram = "instagram"

	DefaultInstagramBaseURL = "https://www.instagram.com"

	instagramUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
	maxMetadataBytes   = 8 << 20
)

var shortcodeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{5,64}$`)

// postKinds are the path segments that precede a shortcode.
var postKinds = map[string]struct{}{"p": {}, "reel": {}, "reels": {}, "tv": {}}

// Instagram resolves post, reel and IGTV links through the public JSON
// endpoint of a post page.
type Instagram struct {
	httpClient *http.Client
	baseURL    string
}

func NewInstagram(httpClient *http.Client, baseURL string) *Instagram {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultInstagramBaseURL
	}
	return &Instagram{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

func (in *Instagram) Platform() string { return PlatformInstagram }

func (in *Instagram) Supports(host string) bool {
	return hostIn(host, "instagram.com", "instagr.am")
}

func (in *Instagram) Identify(u *url.URL) error {
	_, err := shortcode(u)
	return err
}

// post is the part of a post's metadata the pipeline needs.
type post struct {
	author string
	videos []string
}

func (in *Instagram) Resolve(ctx context.Context, u *url.URL, mode media.CollectionMode) (media.Listing, error) {
	code, err := shortcode(u)
	if err != nil {
		return media.Listing{}, err
	}
	log := logging.FromContextS(ctx)
	p, err := in.fetchPost(ctx, code)
	if err != nil {
		return media.Listing{}, err
	}
	if len(p.videos) == 0 {
		return media.Listing{}, fmt.Errorf("%w: post %s has no video", media.ErrResolution, code)
	}
	log.Infof("Got post %s by %q with %d videos", code, p.author, len(p.videos))

	videos := p.videos
	if mode == media.Single {
		videos = videos[:1]
	}
	listing := media.Listing{Title: code, Items: make([]media.Item, 0, len(videos))}
	for i, videoURL := range videos {
		title := code
		if len(videos) > 1 {
			title = fmt.Sprintf("%s_%d", code, i+1)
		}
		listing.Items = append(listing.Items, media.Item{
			Title:     title,
			Locator:   videoURL,
			Container: media.MIMEVideo,
		})
	}
	return listing, nil
}

// Streams returns the single progressive mp4 of a post video.
func (in *Instagram) Streams(_ context.Context, item media.Item) ([]media.Stream, error) {
	if item.Locator == "" {
		return nil, fmt.Errorf("%w: item %q has no video url", media.ErrResolution, item.Title)
	}
	return []media.Stream{{
		MimeType: media.MIMEVideo,
		HasAudio: true,
		HasVideo: true,
		URL:      item.Locator,
	}}, nil
}

func (in *Instagram) StreamURL(_ context.Context, item media.Item, stream media.Stream) (string, error) {
	if stream.URL == "" {
		return "", fmt.Errorf("%w: item %q has no video url", media.ErrUpstreamUnavailable, item.Title)
	}
	return stream.URL, nil
}

func (in *Instagram) fetchPost(ctx context.Context, code string) (post, error) {
	endpoint := fmt.Sprintf("%s/p/%s/?__a=1&__d=dis", in.baseURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return post{}, fmt.Errorf("%w: %w", media.ErrResolution, err)
	}
	req.Header.Set("User-Agent", instagramUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := in.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return post{}, media.Canceled(ctxErr, media.ErrResolution)
		}
		return post{}, fmt.Errorf("%w: failed to request post %s: %w", media.ErrResolution, code, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return post{}, fmt.Errorf("%w: instagram requires login to see post %s (status %d)", media.ErrResolution, code, resp.StatusCode)
	case http.StatusNotFound:
		return post{}, fmt.Errorf("%w: post %s does not exist", media.ErrResolution, code)
	case http.StatusTooManyRequests:
		return post{}, fmt.Errorf("%w: instagram rate limited the request", media.ErrResolution)
	default:
		return post{}, fmt.Errorf("%w: instagram responded with status %d", media.ErrResolution, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return post{}, fmt.Errorf("%w: failed to read post %s: %w", media.ErrResolution, code, err)
	}
	js, err := sjson.NewJson(body)
	if err != nil {
		return post{}, fmt.Errorf("%w: post %s metadata is not json (login wall?): %w", media.ErrResolution, code, err)
	}
	return parsePost(js)
}

var errUnknownShape = errors.New("unknown metadata shape")

// parsePost understands both the legacy graphql document and the newer
// items document.
func parsePost(js *sjson.Json) (post, error) {
	if m, ok := js.CheckGet("graphql"); ok {
		return parseGraphQLMedia(m.Get("shortcode_media")), nil
	}
	if items, ok := js.CheckGet("items"); ok {
		if arr, err := items.Array(); err == nil && len(arr) > 0 {
			return parseFeedItem(items.GetIndex(0)), nil
		}
	}
	return post{}, fmt.Errorf("%w: %w", media.ErrResolution, errUnknownShape)
}

func parseGraphQLMedia(m *sjson.Json) post {
	p := post{author: m.GetPath("owner", "username").MustString()}
	if children, ok := m.CheckGet("edge_sidecar_to_children"); ok {
		edges := children.Get("edges")
		arr, _ := edges.Array()
		for i := range arr {
			node := edges.GetIndex(i).Get("node")
			if node.Get("is_video").MustBool() {
				if u := node.Get("video_url").MustString(); u != "" {
					p.videos = append(p.videos, u)
				}
			}
		}
		return p
	}
	if m.Get("is_video").MustBool() {
		if u := m.Get("video_url").MustString(); u != "" {
			p.videos = append(p.videos, u)
		}
	}
	return p
}

const (
	feedMediaVideo    = 2
	feedMediaCarousel = 8
)

func parseFeedItem(m *sjson.Json) post {
	p := post{author: m.GetPath("user", "username").MustString()}
	switch m.Get("media_type").MustInt() {
	case feedMediaCarousel:
		carousel := m.Get("carousel_media")
		arr, _ := carousel.Array()
		for i := range arr {
			child := carousel.GetIndex(i)
			if child.Get("media_type").MustInt() != feedMediaVideo {
				continue
			}
			if u := child.Get("video_versions").GetIndex(0).Get("url").MustString(); u != "" {
				p.videos = append(p.videos, u)
			}
		}
	case feedMediaVideo:
		if u := m.Get("video_versions").GetIndex(0).Get("url").MustString(); u != "" {
			p.videos = append(p.videos, u)
		}
	}
	return p
}

// shortcode extracts the post identifier that follows /p/, /reel/, /reels/
// or /tv/, optionally after a user name.
func shortcode(u *url.URL) (string, error) {
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i := 0; i+1 < len(segments); i++ {
		if _, ok := postKinds[strings.ToLower(segments[i])]; ok && shortcodeRegex.MatchString(segments[i+1]) {
			return segments[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: no post shortcode in %q", media.ErrInvalidURL, u.String())
}
