package resolver

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vm-affekt/mediafetch/internal/media"
)

type fakeVideoClient struct {
	videos    map[string]*youtube.Video
	playlist  *youtube.Playlist
	err       error
	streamURL string
	calls     []string
}

func (f *fakeVideoClient) GetVideoContext(_ context.Context, id string) (*youtube.Video, error) {
	f.calls = append(f.calls, "video:"+id)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, youtube.ErrVideoPrivate
	}
	return v, nil
}

func (f *fakeVideoClient) GetPlaylistContext(_ context.Context, link string) (*youtube.Playlist, error) {
	f.calls = append(f.calls, "playlist:"+link)
	if f.err != nil {
		return nil, f.err
	}
	return f.playlist, nil
}

func (f *fakeVideoClient) GetStreamURLContext(_ context.Context, _ *youtube.Video, format *youtube.Format) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.streamURL + "?itag=" + format.MimeType, nil
}

func newTestYouTube(fake *fakeVideoClient) *YouTube {
	return &YouTube{newClient: func() videoClient { return fake }}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestYouTube_Identify(t *testing.T) {
	type args struct {
		link string
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name:    "should_return_err_on_channel_page",
			args:    args{link: "https://www.youtube.com/@somechannel"},
			wantErr: true,
		},
		{
			name:    "should_not_return_err_when_correct_youtube_url",
			args:    args{link: "https://www.youtube.com/watch?v=7UxNoFjmhBA"},
			wantErr: false,
		},
		{
			name:    "should_not_return_err_on_short_link",
			args:    args{link: "https://youtu.be/GQtVIUdr4sk"},
			wantErr: false,
		},
		{
			name:    "should_not_return_err_on_shorts",
			args:    args{link: "https://www.youtube.com/shorts/GQtVIUdr4sk"},
			wantErr: false,
		},
		{
			name:    "should_not_return_err_on_live_link",
			args:    args{link: "https://www.youtube.com/live/SL6b1Shryww?feature=share"},
			wantErr: false,
		},
		{
			name:    "should_return_err_on_live_link_without_id",
			args:    args{link: "https://www.youtube.com/live/"},
			wantErr: true,
		},
		{
			name:    "should_return_err_on_too_short_id",
			args:    args{link: "https://www.youtube.com/watch?v=ABC123"},
			wantErr: true,
		},
		{
			name:    "should_not_return_err_on_playlist_page",
			args:    args{link: "https://www.youtube.com/playlist?list=PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI"},
			wantErr: false,
		},
		{
			name:    "should_return_err_on_playlist_page_without_list",
			args:    args{link: "https://www.youtube.com/playlist"},
			wantErr: true,
		},
	}
	y := NewYouTube(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := y.Identify(mustParse(t, tt.args.link))
			if tt.wantErr {
				assert.ErrorIs(t, err, media.ErrInvalidURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_transformLink(t *testing.T) {
	type args struct {
		link string
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "should_return_same_url",
			args: args{link: "https://youtu.be/GQtVIUdr4sk"},
			want: "https://youtu.be/GQtVIUdr4sk",
		},
		{
			name: "should_extract_id_from_live_path",
			args: args{link: "https://www.youtube.com/live/SL6b1Shryww?feature=share"},
			want: "SL6b1Shryww",
		},
		{
			name: "should_not_return_idx_out_of_range_on_invalid_path",
			args: args{link: "https://www.youtube.com/live/?feature=share"},
			want: "https://www.youtube.com/live/?feature=share",
		},
		{
			name: "should_not_return_idx_out_of_range_on_invalid_path_without_query",
			args: args{link: "https://www.youtube.com/live/"},
			want: "https://www.youtube.com/live/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transformLink(tt.args.link))
		})
	}
}

func TestYouTube_Resolve_Single(t *testing.T) {
	fake := &fakeVideoClient{videos: map[string]*youtube.Video{
		"7UxNoFjmhBA": {
			ID:    "7UxNoFjmhBA",
			Title: "AC/DC: Thunderstruck",
			Formats: youtube.FormatList{
				{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, AudioChannels: 2, Height: 360},
				{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2},
			},
		},
	}}
	y := newTestYouTube(fake)

	// list= is ignored in single mode
	listing, err := y.Resolve(context.Background(), mustParse(t, "https://www.youtube.com/watch?v=7UxNoFjmhBA&list=PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI"), media.Single)
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "AC/DC: Thunderstruck", listing.Title)
	assert.Equal(t, "7UxNoFjmhBA", listing.Items[0].Locator)
	assert.Equal(t, "audio/mp4", listing.Items[0].Container)
	assert.Equal(t, []string{"video:7UxNoFjmhBA"}, fake.calls)
}

func TestYouTube_Resolve_Playlist(t *testing.T) {
	fake := &fakeVideoClient{playlist: &youtube.Playlist{
		ID:    "PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI",
		Title: "Best of",
		Videos: []*youtube.PlaylistEntry{
			{ID: "aaaaaaaaaaa", Title: "First"},
			nil,
			{ID: "bbbbbbbbbbb"},
		},
	}}
	y := newTestYouTube(fake)

	listing, err := y.Resolve(context.Background(), mustParse(t, "https://www.youtube.com/playlist?list=PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI"), media.Collection)
	require.NoError(t, err)
	assert.Equal(t, "Best of", listing.Title)
	require.Len(t, listing.Items, 2)
	assert.Equal(t, "First", listing.Items[0].Title)
	assert.Equal(t, "bbbbbbbbbbb", listing.Items[1].Title)
}

func TestYouTube_Resolve_CollectionWithoutList(t *testing.T) {
	fake := &fakeVideoClient{videos: map[string]*youtube.Video{
		"GQtVIUdr4sk": {ID: "GQtVIUdr4sk", Title: "One"},
	}}
	listing, err := newTestYouTube(fake).Resolve(context.Background(), mustParse(t, "https://youtu.be/GQtVIUdr4sk"), media.Collection)
	require.NoError(t, err)
	assert.Len(t, listing.Items, 1)
}

func TestYouTube_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		mode    media.CollectionMode
		err     error
		wantErr error
	}{
		{"should_return_invalid_url_on_playlist_page_in_single_mode", "https://www.youtube.com/playlist?list=PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI", media.Single, nil, media.ErrInvalidURL},
		{"should_return_resolution_error_on_private_video", "https://youtu.be/GQtVIUdr4sk", media.Single, youtube.ErrVideoPrivate, media.ErrResolution},
		{"should_return_resolution_error_on_age_restriction", "https://youtu.be/GQtVIUdr4sk", media.Single, youtube.ErrLoginRequired, media.ErrResolution},
		{"should_return_resolution_error_on_playability", "https://youtu.be/GQtVIUdr4sk", media.Single, &youtube.ErrPlayabiltyStatus{Status: "UNPLAYABLE", Reason: "geo"}, media.ErrResolution},
		{"should_return_resolution_error_on_status", "https://youtu.be/GQtVIUdr4sk", media.Single, youtube.ErrUnexpectedStatusCode(429), media.ErrResolution},
		{"should_return_invalid_url_on_invalid_playlist", "https://www.youtube.com/playlist?list=PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI", media.Collection, youtube.ErrInvalidPlaylist, media.ErrInvalidURL},
		{"should_return_cancelled_on_context_cancel", "https://youtu.be/GQtVIUdr4sk", media.Single, context.Canceled, media.ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeVideoClient{err: tt.err}
			_, err := newTestYouTube(fake).Resolve(context.Background(), mustParse(t, tt.link), tt.mode)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err) || errors.As(err, new(*youtube.ErrPlayabiltyStatus)), "cause must be kept: %v", err)
			}
		})
	}
}

func TestYouTube_StreamsAndURL(t *testing.T) {
	fake := &fakeVideoClient{
		streamURL: "https://rr1.googlevideo.com/videoplayback",
		videos: map[string]*youtube.Video{
			"GQtVIUdr4sk": {ID: "GQtVIUdr4sk", Formats: youtube.FormatList{
				{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, AudioChannels: 2, Height: 360, Bitrate: 500_000, ContentLength: 1000},
				{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, Bitrate: 4_000_000},
				{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160_000},
			}},
		},
	}
	y := newTestYouTube(fake)
	item := media.Item{Title: "x", Locator: "GQtVIUdr4sk", Platform: PlatformYouTube}

	streams, err := y.Streams(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, streams, 3)
	assert.True(t, streams[0].HasAudio && streams[0].HasVideo)
	assert.EqualValues(t, 1000, streams[0].ContentLength)
	assert.True(t, streams[1].HasVideo)
	assert.False(t, streams[1].HasAudio)
	assert.True(t, streams[2].HasAudio)
	assert.False(t, streams[2].HasVideo)
	assert.Equal(t, "audio/webm", streams[2].Container())

	u, err := y.StreamURL(context.Background(), item, streams[2])
	require.NoError(t, err)
	assert.Contains(t, u, "googlevideo.com")

	_, err = y.StreamURL(context.Background(), item, media.Stream{})
	assert.ErrorIs(t, err, media.ErrResolution)

	fake.err = errors.New("decipher failed")
	_, err = y.StreamURL(context.Background(), item, streams[0])
	assert.ErrorIs(t, err, media.ErrUpstreamUnavailable)
}
