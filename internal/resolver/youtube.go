package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

const PlatformYouTube = "youtube"

var (
	videoIDRegex    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{13,42}$`)
)

// videoClient is the part of *youtube.Client the resolver uses.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// YouTube resolves youtube.com, youtu.be and music.youtube.com links.
type YouTube struct {
	// newClient returns a fresh client for every operation: *youtube.Client
	// switches its innertube client on age-restricted videos, so sharing one
	// between requests is not safe.
	newClient func() videoClient
}

func NewYouTube(httpClient *http.Client) *YouTube {
	return &YouTube{
		newClient: func() videoClient {
			return &youtube.Client{HTTPClient: httpClient}
		},
	}
}

func (y *YouTube) Platform() string { return PlatformYouTube }

func (y *YouTube) Supports(host string) bool {
	return hostIn(host, "youtube.com", "youtu.be", "youtube-nocookie.com")
}

func (y *YouTube) Identify(u *url.URL) error {
	if u.Path == "/playlist" {
		if playlistID(u) == "" {
			return fmt.Errorf("%w: no playlist id in %q", media.ErrInvalidURL, u.String())
		}
		return nil
	}
	_, err := videoID(u)
	return err
}

func (y *YouTube) Resolve(ctx context.Context, u *url.URL, mode media.CollectionMode) (media.Listing, error) {
	if mode == media.Collection && playlistID(u) != "" {
		return y.resolvePlaylist(ctx, u)
	}
	id, err := videoID(u)
	if err != nil {
		return media.Listing{}, err
	}
	video, err := y.newClient().GetVideoContext(ctx, id)
	if err != nil {
		return media.Listing{}, classifyYouTubeError(err)
	}
	item := media.Item{
		Title:     video.Title,
		Locator:   video.ID,
		Container: estimateContainer(video.Formats),
	}
	return media.Listing{Title: video.Title, Items: []media.Item{item}}, nil
}

func (y *YouTube) resolvePlaylist(ctx context.Context, u *url.URL) (media.Listing, error) {
	log := logging.FromContextS(ctx)
	playlist, err := y.newClient().GetPlaylistContext(ctx, u.String())
	if err != nil {
		return media.Listing{}, classifyYouTubeError(err)
	}
	log.Infof("Got playlist %q by %q with %d entries", playlist.Title, playlist.Author, len(playlist.Videos))
	listing := media.Listing{Title: playlist.Title, Items: make([]media.Item, 0, len(playlist.Videos))}
	if listing.Title == "" {
		listing.Title = playlist.ID
	}
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		title := entry.Title
		if title == "" {
			title = entry.ID
		}
		listing.Items = append(listing.Items, media.Item{Title: title, Locator: entry.ID})
	}
	return listing, nil
}

type youtubeStream struct {
	client videoClient
	video  *youtube.Video
	format *youtube.Format
}

func (y *YouTube) Streams(ctx context.Context, item media.Item) ([]media.Stream, error) {
	log := logging.FromContextS(ctx)
	client := y.newClient()
	video, err := client.GetVideoContext(ctx, item.Locator)
	if err != nil {
		return nil, classifyYouTubeError(err)
	}
	log.Infof("Got video metadata with %d formats", len(video.Formats))
	streams := make([]media.Stream, 0, len(video.Formats))
	for i := range video.Formats {
		f := &video.Formats[i]
		streams = append(streams, media.Stream{
			MimeType:      f.MimeType,
			HasAudio:      f.AudioChannels > 0,
			HasVideo:      strings.HasPrefix(media.BaseMIME(f.MimeType), "video/"),
			Bitrate:       f.Bitrate,
			Height:        f.Height,
			ContentLength: f.ContentLength,
			Handle:        &youtubeStream{client: client, video: video, format: f},
		})
	}
	return streams, nil
}

func (y *YouTube) StreamURL(ctx context.Context, item media.Item, stream media.Stream) (string, error) {
	h, ok := stream.Handle.(*youtubeStream)
	if !ok {
		return "", fmt.Errorf("%w: stream of %q was not listed by the youtube resolver", media.ErrResolution, item.Title)
	}
	logging.FromContextS(ctx).Infow("Resolving stream url",
		"format_mime_type", h.format.MimeType,
		"format_quality", h.format.Quality,
		"format_itag", h.format.ItagNo,
	)
	streamURL, err := h.client.GetStreamURLContext(ctx, h.video, h.format)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", media.Canceled(ctxErr, media.ErrNetwork)
		}
		return "", fmt.Errorf("%w: failed to get stream url of itag %d: %w", media.ErrUpstreamUnavailable, h.format.ItagNo, err)
	}
	return streamURL, nil
}

// videoID extracts the 11 character video id from any supported link shape.
func videoID(u *url.URL) (string, error) {
	link := transformLink(u.String())
	id, err := youtube.ExtractVideoID(link)
	if err != nil {
		return "", fmt.Errorf("%w: failed to extract video id from link: %w", media.ErrInvalidURL, err)
	}
	if !videoIDRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q has no video id", media.ErrInvalidURL, u.String())
	}
	return id, nil
}

func playlistID(u *url.URL) string {
	id := u.Query().Get("list")
	if !playlistIDRegex.MatchString(id) {
		return ""
	}
	return id
}

// transformLink extracts and returns video id if link has '/live/' path.
// Youtube downloader lib doesn't recognize '/live/' links.
func transformLink(link string) string {
	const livePath = "/live/"
	parsedURL, err := url.Parse(link)
	if err != nil {
		return link
	}
	path := parsedURL.Path
	if !strings.HasPrefix(path, livePath) {
		return link
	}
	startIdx := len(livePath)
	if len(path) == startIdx {
		return link
	}
	return strings.TrimSuffix(path[startIdx:], "/")
}

// estimateContainer guesses the container the fetcher will most likely pick.
func estimateContainer(formats youtube.FormatList) string {
	audio := formats.WithAudioChannels()
	for _, f := range audio {
		if !strings.HasPrefix(media.BaseMIME(f.MimeType), "video/") {
			return media.BaseMIME(f.MimeType)
		}
	}
	if len(audio) > 0 {
		return media.BaseMIME(audio[0].MimeType)
	}
	return ""
}

func classifyYouTubeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return media.Canceled(err, media.ErrResolution)
	}
	switch {
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength),
		errors.Is(err, youtube.ErrInvalidPlaylist):
		return fmt.Errorf("%w: %w", media.ErrInvalidURL, err)
	case errors.Is(err, youtube.ErrVideoPrivate):
		return fmt.Errorf("%w: video is private: %w", media.ErrResolution, err)
	case errors.Is(err, youtube.ErrLoginRequired):
		return fmt.Errorf("%w: video is age restricted: %w", media.ErrResolution, err)
	case errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return fmt.Errorf("%w: video can't be played outside youtube: %w", media.ErrResolution, err)
	}
	var playability *youtube.ErrPlayabiltyStatus
	if errors.As(err, &playability) {
		return fmt.Errorf("%w: video is not playable (%s: %s): %w", media.ErrResolution, playability.Status, playability.Reason, err)
	}
	var status youtube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		return fmt.Errorf("%w: youtube responded with status %d: %w", media.ErrResolution, int(status), err)
	}
	return fmt.Errorf("%w: %w", media.ErrResolution, err)
}
