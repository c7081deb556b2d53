package app

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vm-affekt/mediafetch/internal/media"
)

type ReqUserProvider interface {
	User() *tgbotapi.User

	SendMessageWithKeyboardf(ctx context.Context, replyKeyboard *tgbotapi.ReplyKeyboardMarkup, text string, args ...interface{}) (messageID int, err error)
	// SendFile uploads the artifact as audio, video or document depending on its content type.
	SendFile(ctx context.Context, artifact media.Artifact) error

	RedirectToDialog(ctx context.Context, id DialogID) (newDlg Dialog, err error)
	DeleteMessages(ctx context.Context, msgIDs ...int) error
}

func SendMessagef(ctx context.Context, rup ReqUserProvider, text string, args ...interface{}) (messageID int, err error) {
	return rup.SendMessageWithKeyboardf(ctx, nil, text, args...)
}
