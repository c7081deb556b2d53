package maind

import (
	"context"

	"github.com/vm-affekt/mediafetch/internal/app"
	"github.com/vm-affekt/mediafetch/internal/logging"
)

type dialog struct {
	rup       app.ReqUserProvider
	validator app.LinkValidator
}

func New(rup app.ReqUserProvider, validator app.LinkValidator) app.Dialog {
	return &dialog{rup: rup, validator: validator}
}

func (d *dialog) OnEnter(ctx context.Context) error {
	log := logging.FromContextS(ctx)
	log.Info("User entered to main dialog")
	return nil
}

func (d *dialog) OnMessage(ctx context.Context, text string, msgID int) error {
	if err := d.validator.Validate(text); err != nil {
		return app.
			NewUserError("Введите корректную ссылку на ролик или плейлист YouTube либо на пост Instagram").
			WithCause(err)
	}
	downloadDlg, err := d.rup.RedirectToDialog(ctx, app.DialogDownload)
	if err != nil {
		return err
	}
	if err := downloadDlg.OnMessage(ctx, text, msgID); err != nil {
		return err
	}
	return nil
}
