package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vm-affekt/mediafetch/internal/app"
	"github.com/vm-affekt/mediafetch/internal/dialogs"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

type reqUserProvider struct {
	bot             *tgbotapi.BotAPI
	userDialogState *app.UserDialogState
	container       *dialogs.Container
	from            *tgbotapi.User
}

func NewReqUserProvider(
	bot *tgbotapi.BotAPI,
	from *tgbotapi.User,
	userDialogState *app.UserDialogState,
	container *dialogs.Container,
) *reqUserProvider {
	return &reqUserProvider{
		bot:             bot,
		from:            from,
		userDialogState: userDialogState,
		container:       container,
	}
}

func (rup *reqUserProvider) User() *tgbotapi.User {
	return rup.from
}

func (rup *reqUserProvider) SendMessageWithKeyboardf(ctx context.Context, replyKeyboard *tgbotapi.ReplyKeyboardMarkup, text string, args ...interface{}) (int, error) {
	msg := rup.makeTextMsgf(text, args...)
	if replyKeyboard != nil {
		msg.ReplyMarkup = replyKeyboard
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}

	return rup.sendMessage(ctx, msg)
}

func (rup *reqUserProvider) SendFile(ctx context.Context, artifact media.Artifact) error {
	log := logging.FromContextS(ctx)
	log.Infof("Uploading %s file %q (%s) to Telegram...", artifact.ContentType, artifact.FileName, humanize.IBytes(uint64(artifact.Size)))
	if _, err := rup.bot.Send(newFileMessage(rup.from.ID, artifact)); err != nil {
		return fmt.Errorf("failed to upload %q to telegram: %w", artifact.FileName, err)
	}
	log.Info("Uploading file to Telegram successfully done!")
	return nil
}

// newFileMessage picks the upload method by content type. Telegram takes the
// file name from the base of the artifact path.
func newFileMessage(chatID int64, artifact media.Artifact) tgbotapi.Chattable {
	file := tgbotapi.FilePath(artifact.Path)
	switch artifact.ContentType {
	case media.MIMEAudio:
		msg := tgbotapi.NewAudio(chatID, file)
		msg.Title = strings.TrimSuffix(artifact.FileName, ".mp3")
		return msg
	case media.MIMEVideo:
		msg := tgbotapi.NewVideo(chatID, file)
		msg.SupportsStreaming = true
		return msg
	}
	return tgbotapi.NewDocument(chatID, file)
}

func (rup *reqUserProvider) RedirectToDialog(ctx context.Context, id app.DialogID) (newDlg app.Dialog, err error) {
	log := logging.FromContextS(ctx)
	log.Infof("Redirecting to dialog with id=%d...", id)
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate dialog: %w", err)
	}

	newDlg = rup.container.CreateDialog(id, rup)
	rup.userDialogState.SetDialogForUser(rup.from.ID, newDlg)
	if err := newDlg.OnEnter(ctx); err != nil {
		return nil, fmt.Errorf("failed OnEnter on new dialog: %w", err)
	}
	return newDlg, nil
}

func (rup *reqUserProvider) DeleteMessages(ctx context.Context, msgIDs ...int) error {
	log := logging.FromContextS(ctx)
	log.Infof("Removing of %d messages..", len(msgIDs))
	for _, msgID := range msgIDs {
		cfg := tgbotapi.NewDeleteMessage(rup.from.ID, msgID)
		if _, err := rup.bot.Send(cfg); err != nil {
			if !strings.Contains(err.Error(), "json: cannot unmarshal bool into Go value of type tgbotapi.Message") { // TODO: В либе ошибка, телеграмовский ответ неправильно маршалится
				return fmt.Errorf("failed to delete message with id %v: %w", msgID, err)
			}
		}
	}
	log.Info("All specified messages deleted!")
	return nil
}

func (rup *reqUserProvider) makeTextMsgf(text string, args ...interface{}) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(rup.from.ID, fmt.Sprintf(text, args...))
	m.ParseMode = "HTML"
	return m
}

func (rup *reqUserProvider) sendMessage(ctx context.Context, msg tgbotapi.MessageConfig) (messageID int, err error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("context is done while sending message: %w", ctx.Err())
	default:
	}

	logging.FromContextS(ctx).Infow("Sending message to user...",
		"text", msg.Text)

	sentMsg, err := rup.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message %+v to user with telegram_id=%d: %w", msg, rup.from.ID, err)
	}
	return sentMsg.MessageID, nil
}
