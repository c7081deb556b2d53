package dialogs

import (
	"time"

	"github.com/vm-affekt/mediafetch/internal/app"
	"github.com/vm-affekt/mediafetch/internal/dialogs/download"
	"github.com/vm-affekt/mediafetch/internal/dialogs/maind"
)

// Container is DI-container of app
type Container struct {
	validator       app.LinkValidator
	downloadService app.DownloadService
	downloadTimeout time.Duration
	maxFileSizeMB   int64
}

func NewContainer(validator app.LinkValidator, downloadService app.DownloadService, downloadTimeout time.Duration, maxFileSizeMB int64) *Container {
	return &Container{
		validator:       validator,
		downloadService: downloadService,
		downloadTimeout: downloadTimeout,
		maxFileSizeMB:   maxFileSizeMB,
	}
}

func (c *Container) CreateDialog(id app.DialogID, rup app.ReqUserProvider) app.Dialog {
	switch id {
	case app.DialogMain:
		return maind.New(rup, c.validator)
	case app.DialogDownload:
		return download.New(rup, c.validator, c.downloadService, c.downloadTimeout, c.maxFileSizeMB)
	}
	return nil
}
