package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vm-affekt/mediafetch/internal/downloader"
	"github.com/vm-affekt/mediafetch/internal/media"
)

func newGetCmd(e *env) *cobra.Command {
	var (
		video      bool
		audio      bool
		collection bool
		outputDir  string
	)
	cmd := &cobra.Command{
		Use:   "get [flags] <url>",
		Short: "Download one link into a local directory",
		Long: `Download one link into a local directory.

Examples:
  mediafetch get https://youtu.be/GQtVIUdr4sk
  mediafetch get --video https://www.instagram.com/reel/Cabc123/
  mediafetch get --collection -o ~/Music "https://www.youtube.com/playlist?list=PL..."`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := media.Audio
			if video {
				kind = media.Video
			}
			mode := media.Single
			if collection {
				mode = media.Collection
			}
			req, err := media.NewRequest(args[0], kind, mode)
			if err != nil {
				return err
			}

			res, err := e.pipeline().service.Download(cmd.Context(), req, progressPrinter(cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("%s: %w", media.KindOf(err), err)
			}
			defer res.Close()

			dst, err := saveArtifact(res.Artifact, outputDir)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res, dst)
			return nil
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", true, "Extract MP3 audio")
	cmd.Flags().BoolVar(&video, "video", false, "Keep video as MP4")
	cmd.Flags().BoolVarP(&collection, "collection", "c", false, "Download the whole playlist or carousel")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	cmd.MarkFlagsMutuallyExclusive("audio", "video")
	return cmd
}

// progressPrinter reports state transitions, one line each.
func progressPrinter(w io.Writer) downloader.Observer {
	return func(p downloader.Progress) {
		switch p.State {
		case downloader.StateResolving:
			fmt.Fprintln(w, "Resolving link...")
		case downloader.StateFetching:
			fmt.Fprintf(w, "[%d/%d] Downloading %q\n", p.Item, p.Total, p.Title)
		case downloader.StateTranscoding:
			size := "unknown size"
			if p.Counter != nil {
				size = humanize.IBytes(uint64(p.Counter.CurrentDownloaded()))
			}
			fmt.Fprintf(w, "[%d/%d] Converting %q (%s)\n", p.Item, p.Total, p.Title, size)
		case downloader.StatePackaging:
			fmt.Fprintln(w, "Packaging...")
		case downloader.StateFailed:
			fmt.Fprintf(w, "Failed: %s\n", media.KindOf(p.Err))
		}
	}
}

// saveArtifact copies the artifact into dir without overwriting existing
// files and returns the destination path.
func saveArtifact(a media.Artifact, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", media.ErrWrite, err)
	}
	src, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", media.ErrWrite, err)
	}
	defer src.Close()

	names := media.NewNameSet()
	for {
		name := names.Unique(a.FileName)
		dst := filepath.Join(dir, name)
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", media.ErrWrite, err)
		}
		if _, err := io.Copy(f, src); err != nil {
			_ = f.Close()
			_ = os.Remove(dst)
			return "", fmt.Errorf("%w: %w", media.ErrWrite, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(dst)
			return "", fmt.Errorf("%w: %w", media.ErrWrite, err)
		}
		return dst, nil
	}
}

func printSummary(w io.Writer, res *downloader.Result, dst string) {
	fmt.Fprintf(w, "Saved %s (%s, %s)\n", dst, res.Artifact.ContentType, humanize.IBytes(uint64(res.Artifact.Size)))
	if res.Skipped() == 0 {
		return
	}
	fmt.Fprintf(w, "%d of %d items skipped:\n", res.Skipped(), len(res.Outcomes))
	for _, o := range res.Outcomes {
		if !o.Succeeded() {
			fmt.Fprintf(w, "  %d. %s: %s\n", o.Item.Index, o.Item.Title, o.Reason())
		}
	}
}
