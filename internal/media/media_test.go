package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		kind    OutputKind
		want    string
		wantErr error
	}{
		{
			name: "should_keep_full_url",
			url:  "https://www.youtube.com/watch?v=7UxNoFjmhBA",
			kind: Audio,
			want: "https://www.youtube.com/watch?v=7UxNoFjmhBA",
		},
		{
			name: "should_add_scheme_when_missing",
			url:  "youtube.com/watch?v=7UxNoFjmhBA",
			kind: Video,
			want: "https://youtube.com/watch?v=7UxNoFjmhBA",
		},
		{
			name:    "should_return_err_on_empty_url",
			url:     "   ",
			kind:    Audio,
			wantErr: ErrInvalidURL,
		},
		{
			name:    "should_return_err_on_ftp_scheme",
			url:     "ftp://example.com/file",
			kind:    Audio,
			wantErr: ErrInvalidURL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.url, tt.kind, Single)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.SourceURL())
			assert.Equal(t, tt.kind, req.Kind())
			assert.Equal(t, Single, req.Mode())
		})
	}

	_, err := NewRequest("https://youtu.be/GQtVIUdr4sk", OutputKind(7), Single)
	assert.Error(t, err)
}

func TestParseOutputKind(t *testing.T) {
	for in, want := range map[string]OutputKind{"audio": Audio, "MP3": Audio, " video ": Video, "mp4": Video} {
		got, err := ParseOutputKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOutputKind("flac")
	assert.Error(t, err)
}

func TestOutputKind_MIMEAndExtension(t *testing.T) {
	assert.Equal(t, "audio/mpeg", Audio.MIME())
	assert.Equal(t, ".mp3", Audio.Extension())
	assert.Equal(t, "video/mp4", Video.MIME())
	assert.Equal(t, ".mp4", Video.Extension())
}

func TestBaseMIME(t *testing.T) {
	assert.Equal(t, "video/mp4", BaseMIME(`video/mp4; codecs="avc1.42001E, mp4a.40.2"`))
	assert.Equal(t, "audio/webm", BaseMIME("Audio/WebM"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"network", fmt.Errorf("chunk 3: %w", ErrNetwork), "NetworkError"},
		{"upstream", fmt.Errorf("%w: status 403", ErrUpstreamUnavailable), "UpstreamUnavailable"},
		{"transcode failure", &TranscodeFailure{Input: "a.webm", Stderr: "bad"}, "TranscodeError"},
		{"packaging summarizes causes", fmt.Errorf("%w: all failed: %w", ErrPackaging, ErrNetwork), "PackagingError"},
		{"cancelled", Canceled(context.Canceled, ErrNetwork), "Cancelled"},
		{"deadline", Canceled(context.DeadlineExceeded, ErrNetwork), "NetworkError"},
		{"unknown", errors.New("boom"), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestTranscodeFailure_CarriesStderr(t *testing.T) {
	cause := errors.New("exit status 1")
	err := error(&TranscodeFailure{Input: "in.webm", Stderr: "Invalid data found when processing input\n", Err: cause})

	assert.ErrorIs(t, err, ErrTranscode)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Invalid data found when processing input")

	var tf *TranscodeFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, "in.webm", tf.Input)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Never Gonna Give You Up", "Never Gonna Give You Up"},
		{"path separators", "AC/DC\\Live", "AC_DC_Live"},
		{"path traversal", "../../../etc/passwd", "etc_passwd"},
		{"reserved chars", `Song: "Best" <Live>?`, `Song_ _Best_ _Live`},
		{"control chars", "Tab\tand\x00null\u200b", "Tab andnull"},
		{"double dots", "Vol..2", "Vol.2"},
		{"leading and trailing", "  .Intro.  ", "Intro"},
		{"empty", "", "untitled"},
		{"only illegal", "???", "untitled"},
		{"unicode kept", "Café del Mar – Ибица", "Café del Mar – Ибица"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input), "SanitizeFilename(%q)", tt.input)
		})
	}
}

func TestSanitizeFilename_TruncatesOnRuneBoundary(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "я"
	}
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), maxNameBytes)
	assert.Equal(t, 90, len([]rune(got)))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "My_ Song_Title.mp3", FileName("My: Song/Title?", Audio))
	assert.Equal(t, "clip.webm.mp4", FileName("clip.webm", Video))
}

func TestNameSet_Unique(t *testing.T) {
	set := NewNameSet()
	assert.Equal(t, "Song.mp3", set.Unique("Song.mp3"))
	assert.Equal(t, "Song (2).mp3", set.Unique("Song.mp3"))
	assert.Equal(t, "song (3).MP3", set.Unique("song.MP3"))
	assert.Equal(t, "Other.mp3", set.Unique("Other.mp3"))
}

func TestVerifyContent(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}
	mp3 := write("a.mp3", append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...))
	mp4 := write("v.mp4", append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2"), make([]byte, 64)...))
	txt := write("t.txt", []byte("hello world"))

	assert.NoError(t, VerifyContent(mp3, MIMEAudio))
	assert.NoError(t, VerifyContent(mp4, MIMEVideo))
	assert.Error(t, VerifyContent(mp3, MIMEVideo))
	assert.Error(t, VerifyContent(txt, MIMEAudio))
	assert.Error(t, VerifyContent(filepath.Join(dir, "missing"), MIMEAudio))
}
