// Package packager bundles the artifacts of a collection into one ZIP
// archive.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
	"go.uber.org/multierr"
)

var ErrNothingToDownload = errors.New("nothing to download")

type Packager struct {
	now func() time.Time
}

func New() *Packager {
	return &Packager{now: time.Now}
}

// Package returns the only artifact unchanged, or writes dir/<title>.zip
// holding every artifact in order. The inputs of an archive are consumed.
func (p *Packager) Package(ctx context.Context, artifacts []media.Artifact, dir, title string) (media.Artifact, error) {
	switch len(artifacts) {
	case 0:
		return media.Artifact{}, fmt.Errorf("%w: %w", media.ErrPackaging, ErrNothingToDownload)
	case 1:
		return artifacts[0], nil
	}
	log := logging.FromContextS(ctx)

	zipName := media.SanitizeFilename(title) + ".zip"
	tmpPath := filepath.Join(dir, ".package-"+zipName)
	finalPath := filepath.Join(dir, zipName)

	size, err := p.writeArchive(ctx, artifacts, tmpPath)
	if err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
		return media.Artifact{}, err
	}
	if err := media.VerifyContent(tmpPath, media.MIMEArchive); err != nil {
		_ = os.Remove(tmpPath)
		return media.Artifact{}, fmt.Errorf("%w: %w", media.ErrPackaging, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return media.Artifact{}, fmt.Errorf("%w: failed to move archive into place: %w", media.ErrPackaging, err)
	}

	var rmErr error
	for _, a := range artifacts {
		rmErr = multierr.Append(rmErr, os.Remove(a.Path))
	}
	if rmErr != nil {
		log.Warnf("Failed to remove packaged inputs: %v", rmErr)
	}
	log.Infof("Packaged %d artifacts into %q (%s)", len(artifacts), zipName, humanize.IBytes(uint64(size)))

	return media.Artifact{
		Path:        finalPath,
		ContentType: media.MIMEArchive,
		FileName:    zipName,
		Size:        size,
	}, nil
}

func (p *Packager) writeArchive(ctx context.Context, artifacts []media.Artifact, path string) (size int64, err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create archive: %w", media.ErrPackaging, err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
		}
	}()

	zw := zip.NewWriter(file)
	names := media.NewNameSet()
	modified := p.now()
	for _, a := range artifacts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, media.Canceled(ctxErr, media.ErrPackaging)
		}
		name := names.Unique(entryName(a))
		if err := addEntry(zw, name, a.Path, modified); err != nil {
			return 0, fmt.Errorf("%w: entry %q: %w", media.ErrPackaging, name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("%w: failed to finalize archive: %w", media.ErrPackaging, err)
	}
	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("%w: failed to sync archive: %w", media.ErrPackaging, err)
	}
	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", media.ErrPackaging, err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("%w: failed to close archive: %w", media.ErrPackaging, err)
	}
	return info.Size(), nil
}

func addEntry(zw *zip.Writer, name, path string, modified time.Time) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: modified,
	}
	header.SetMode(0o644)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// entryName is the sanitized base name of the artifact's suggested file name.
func entryName(a media.Artifact) string {
	name := a.FileName
	if name == "" {
		name = filepath.Base(a.Path)
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	return media.SanitizeFilename(strings.TrimSuffix(name, ext)) + ext
}
