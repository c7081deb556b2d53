// Package transcoder converts staged media into the requested output kind
// with an external ffmpeg process.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

const (
	// Audio codec settings
	AudioCodec   = "libmp3lame"
	AudioQuality = "0"

	// Video codec settings
	VideoCodec     = "libx264"
	VideoPreset    = "medium"
	VideoCRF       = "23"
	VideoAudio     = "aac"
	VideoAudioRate = "128k"

	// Container flags
	FastStartFlag = "+faststart"
	BitexactFlag  = "+bitexact"

	FFmpegCommand = "ffmpeg"

	stderrTailBytes = 8 << 10
	waitDelay       = 5 * time.Second
)

type Transcoder struct {
	binary  string
	timeout time.Duration
}

// New creates a Transcoder running binary, looked up on PATH when it has no
// directory part. A zero timeout leaves the process bounded only by the
// caller's context.
func New(binary string, timeout time.Duration) *Transcoder {
	if binary == "" {
		binary = FFmpegCommand
	}
	return &Transcoder{binary: binary, timeout: timeout}
}

// BuildFFmpegArgs builds the ffmpeg command arguments
func BuildFFmpegArgs(kind media.OutputKind, inputPath, outputPath string) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
	}
	switch kind {
	case media.Audio:
		args = append(args,
			"-map", "a", // Audio streams only
			"-vn",
			"-codec:a", AudioCodec,
			"-q:a", AudioQuality, // Best VBR quality
			"-f", "mp3",
		)
	default:
		args = append(args,
			"-map", "0:v:0",
			"-map", "0:a:0?",
			"-c:v", VideoCodec,
			"-preset", VideoPreset,
			"-crf", VideoCRF,
			"-c:a", VideoAudio,
			"-b:a", VideoAudioRate,
			"-movflags", FastStartFlag, // MP4 optimization
			"-f", "mp4",
		)
	}
	return append(args,
		"-fflags", BitexactFlag,
		"-flags", BitexactFlag,
		outputPath,
		"-y", // Overwrite output file
	)
}

// Transcode turns staged into dir/fileName of the given kind. The staged
// file is removed on success and kept on failure.
func (t *Transcoder) Transcode(ctx context.Context, staged media.StagedFile, kind media.OutputKind, dir, fileName string) (media.Artifact, error) {
	log := logging.FromContextS(ctx)
	target := kind.MIME()
	finalPath := filepath.Join(dir, filepath.Base(fileName))

	if media.BaseMIME(staged.Container) == target {
		err := media.VerifyContent(staged.Path, target)
		if err == nil {
			log.Infof("Staged %s already is %s, skipping ffmpeg", filepath.Base(staged.Path), target)
			return t.publish(staged.Path, finalPath, target)
		}
		log.Warnf("Staged file declared as %s failed the content check, transcoding: %v", target, err)
	}

	binary, err := exec.LookPath(t.binary)
	if err != nil {
		return media.Artifact{}, fmt.Errorf("%w: %q is not installed or not on PATH: %w", media.ErrTranscoderNotFound, t.binary, err)
	}

	if t.timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tmpPath := filepath.Join(dir, ".transcode-"+filepath.Base(fileName))
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	args := BuildFFmpegArgs(kind, staged.Path, tmpPath)
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	log.Infow("Running ffmpeg", "binary", binary, "args", args)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = media.Canceled(ctxErr, media.ErrTranscode)
		}
		return media.Artifact{}, &media.TranscodeFailure{Input: staged.Path, Stderr: stderr.String(), Err: err}
	}
	log.Infof("ffmpeg finished in %v", time.Since(start))

	if info, err := os.Stat(tmpPath); err != nil || info.Size() == 0 {
		return media.Artifact{}, &media.TranscodeFailure{Input: staged.Path, Stderr: stderr.String(), Err: errors.New("ffmpeg produced no output")}
	}
	if err := media.VerifyContent(tmpPath, target); err != nil {
		return media.Artifact{}, &media.TranscodeFailure{Input: staged.Path, Stderr: stderr.String(), Err: err}
	}
	if err := syncFile(tmpPath); err != nil {
		return media.Artifact{}, fmt.Errorf("%w: %w", media.ErrWrite, err)
	}
	artifact, err := t.publish(tmpPath, finalPath, target)
	if err != nil {
		return media.Artifact{}, err
	}
	if err := os.Remove(staged.Path); err != nil {
		log.Warnf("Failed to remove staged input %q: %v", staged.Path, err)
	}
	return artifact, nil
}

func (t *Transcoder) publish(from, to, contentType string) (media.Artifact, error) {
	if err := os.Rename(from, to); err != nil {
		return media.Artifact{}, fmt.Errorf("%w: failed to move artifact into place: %w", media.ErrWrite, err)
	}
	info, err := os.Stat(to)
	if err != nil {
		return media.Artifact{}, fmt.Errorf("%w: %w", media.ErrWrite, err)
	}
	return media.Artifact{
		Path:        to,
		ContentType: contentType,
		FileName:    filepath.Base(to),
		Size:        info.Size(),
	}, nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
