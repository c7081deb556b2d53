package fetcher

import (
	"fmt"
	"sort"

	"github.com/vm-affekt/mediafetch/internal/media"
)

// SelectStream picks the rendition to download for kind.
//
// Audio takes the best audio-only stream and falls back to the best combined
// one. Video takes the best combined stream, mp4 first, then by height.
// Streams already in the target container win over others.
func SelectStream(streams []media.Stream, kind media.OutputKind) (media.Stream, error) {
	var candidates []media.Stream
	if kind == media.Audio {
		candidates = filter(streams, func(s media.Stream) bool { return s.HasAudio && !s.HasVideo })
	}
	if len(candidates) == 0 {
		candidates = filter(streams, func(s media.Stream) bool { return s.HasAudio && s.HasVideo })
	}
	if len(candidates) == 0 {
		return media.Stream{}, fmt.Errorf("%w: none of %d streams carries %s", media.ErrResolution, len(streams), kind)
	}
	target := kind.MIME()
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if am, bm := a.Container() == target, b.Container() == target; am != bm {
			return am
		}
		if kind == media.Video {
			if a.Height != b.Height {
				return a.Height > b.Height
			}
		}
		if a.Bitrate != b.Bitrate {
			return a.Bitrate > b.Bitrate
		}
		return isMP4(a) && !isMP4(b)
	})
	return candidates[0], nil
}

func filter(streams []media.Stream, keep func(media.Stream) bool) []media.Stream {
	var out []media.Stream
	for _, s := range streams {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func isMP4(s media.Stream) bool {
	c := s.Container()
	return c == "video/mp4" || c == "audio/mp4"
}

// containerExt names staged files so ffmpeg can probe them by extension too.
func containerExt(container string) string {
	switch container {
	case "audio/mp4":
		return ".m4a"
	case "video/mp4":
		return ".mp4"
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "video/3gpp":
		return ".3gp"
	}
	return ".bin"
}
