package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vm-affekt/mediafetch/internal/media"
)

const graphqlVideo = `{"graphql":{"shortcode_media":{
	"__typename":"GraphVideo","shortcode":"CxYz123AbC","is_video":true,
	"video_url":"https://scontent.cdninstagram.com/v/clip.mp4",
	"owner":{"username":"someone"}}}}`

const graphqlSidecar = `{"graphql":{"shortcode_media":{
	"__typename":"GraphSidecar","shortcode":"CxYz123AbC","is_video":false,
	"edge_sidecar_to_children":{"edges":[
		{"node":{"is_video":true,"video_url":"https://cdn/1.mp4"}},
		{"node":{"is_video":false,"display_url":"https://cdn/2.jpg"}},
		{"node":{"is_video":true,"video_url":"https://cdn/3.mp4"}}
	]}}}}`

const itemsCarousel = `{"items":[{"media_type":8,"user":{"username":"someone"},"carousel_media":[
	{"media_type":1},
	{"media_type":2,"video_versions":[{"url":"https://cdn/a.mp4"},{"url":"https://cdn/a_low.mp4"}]}
]}]}`

const itemsImage = `{"items":[{"media_type":1,"image_versions2":{}}]}`

func TestInstagram_Identify(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		wantErr bool
	}{
		{name: "should_accept_post", link: "https://www.instagram.com/p/CxYz123AbC/"},
		{name: "should_accept_reel", link: "https://instagram.com/reel/CxYz123AbC/?igsh=abc"},
		{name: "should_accept_reels", link: "https://www.instagram.com/reels/CxYz123AbC"},
		{name: "should_accept_tv", link: "https://www.instagram.com/tv/CxYz123AbC/"},
		{name: "should_accept_user_prefixed_post", link: "https://www.instagram.com/someone/p/CxYz123AbC/"},
		{name: "should_return_err_on_profile", link: "https://www.instagram.com/someone/", wantErr: true},
		{name: "should_return_err_on_post_without_code", link: "https://www.instagram.com/p/", wantErr: true},
	}
	in := NewInstagram(nil, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := in.Identify(mustParse(t, tt.link))
			if tt.wantErr {
				assert.ErrorIs(t, err, media.ErrInvalidURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newInstagramServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/p/CxYz123AbC/", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("__a"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInstagram_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		mode       media.CollectionMode
		wantTitles []string
		wantURLs   []string
	}{
		{
			name:       "should_resolve_single_video",
			body:       graphqlVideo,
			mode:       media.Single,
			wantTitles: []string{"CxYz123AbC"},
			wantURLs:   []string{"https://scontent.cdninstagram.com/v/clip.mp4"},
		},
		{
			name:       "should_expand_sidecar_videos_in_collection_mode",
			body:       graphqlSidecar,
			mode:       media.Collection,
			wantTitles: []string{"CxYz123AbC_1", "CxYz123AbC_2"},
			wantURLs:   []string{"https://cdn/1.mp4", "https://cdn/3.mp4"},
		},
		{
			name:       "should_take_first_sidecar_video_in_single_mode",
			body:       graphqlSidecar,
			mode:       media.Single,
			wantTitles: []string{"CxYz123AbC"},
			wantURLs:   []string{"https://cdn/1.mp4"},
		},
		{
			name:       "should_read_items_shape",
			body:       itemsCarousel,
			mode:       media.Collection,
			wantTitles: []string{"CxYz123AbC"},
			wantURLs:   []string{"https://cdn/a.mp4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newInstagramServer(t, http.StatusOK, tt.body)
			in := NewInstagram(srv.Client(), srv.URL)

			listing, err := in.Resolve(context.Background(), mustParse(t, "https://www.instagram.com/reel/CxYz123AbC/"), tt.mode)
			require.NoError(t, err)
			assert.Equal(t, "CxYz123AbC", listing.Title)
			var titles, urls []string
			for _, it := range listing.Items {
				titles = append(titles, it.Title)
				urls = append(urls, it.Locator)
				assert.Equal(t, media.MIMEVideo, it.Container)
			}
			assert.Equal(t, tt.wantTitles, titles)
			assert.Equal(t, tt.wantURLs, urls)
		})
	}
}

func TestInstagram_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "should_fail_on_not_found", status: http.StatusNotFound, body: `{}`},
		{name: "should_fail_on_login_wall", status: http.StatusForbidden, body: `{}`},
		{name: "should_fail_on_rate_limit", status: http.StatusTooManyRequests, body: `{}`},
		{name: "should_fail_on_html_page", status: http.StatusOK, body: `<!DOCTYPE html><html></html>`},
		{name: "should_fail_on_unknown_json", status: http.StatusOK, body: `{"status":"fail"}`},
		{name: "should_fail_on_image_post", status: http.StatusOK, body: itemsImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newInstagramServer(t, tt.status, tt.body)
			in := NewInstagram(srv.Client(), srv.URL)
			_, err := in.Resolve(context.Background(), mustParse(t, "https://www.instagram.com/p/CxYz123AbC/"), media.Single)
			assert.ErrorIs(t, err, media.ErrResolution)
		})
	}
}

func TestInstagram_Streams(t *testing.T) {
	in := NewInstagram(nil, "")
	item := media.Item{Title: "CxYz123AbC", Locator: "https://cdn/1.mp4", Platform: PlatformInstagram}

	streams, err := in.Streams(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.True(t, streams[0].HasAudio && streams[0].HasVideo)

	u, err := in.StreamURL(context.Background(), item, streams[0])
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/1.mp4", u)

	_, err = in.Streams(context.Background(), media.Item{})
	assert.Error(t, err)
}
