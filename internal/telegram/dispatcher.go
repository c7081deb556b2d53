package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/vm-affekt/mediafetch/internal/app"
	"github.com/vm-affekt/mediafetch/internal/logging"
)

const messageHandlingTimeout = 8 * time.Second

func (p *MsgProcessor) startDispatcher(ctx context.Context) {
	p.listenerDone = make(chan struct{})
	go func() {
		defer close(p.listenerDone)
		p.startUpdListener(ctx)
	}()
}

func (p *MsgProcessor) startUpdListener(gCtx context.Context) {
	log := logging.FromContextS(gCtx)
	log.Info("Message receiver started... The bot is ready to process new messages!")
	for upd := range p.updates {
		var (
			msg  *tgbotapi.Message
			from *tgbotapi.User
		)

		switch {
		case upd.Message != nil:
			msg = upd.Message
			from = msg.From
		default:
			continue
		}

		mu := p.userLock(from.ID)

		ctx, cancel := context.WithTimeout(context.Background(), messageHandlingTimeout) // Parent of this context is Background, not a gCtx. Because cancellation of gCtx should'nt interrupt message handling.
		go func() {
			start := time.Now()
			mu.Lock()
			defer mu.Unlock()
			rqID := genRequestID()
			userID := from.ID
			ctx, log := logging.NewContextSL(ctx,
				"request_id", rqID,
				"user_tg_id", userID,
				"user_name", from.UserName,
			)
			text := msg.Text
			log.Infof("Received message %q", text)
			rup := NewReqUserProvider(p.bot, from, p.userDialogState, p.container)
			defer func() {
				if r := recover(); r != nil {
					log.With("recovered_obj", r).Error("!!! A PANIC occurred while handling query !!! See recovered object in recovered_obj!")
					_, _ = app.SendMessagef(ctx, rup, "При обработке вашего сообщения произошла ошибка. Идентификатор запроса: %v", rqID)
				}
				totalElapsedTime := time.Since(start)
				log.Infow("Query is proceeded.",
					"total_elapsed_time", totalElapsedTime,
				)
			}()
			defer cancel()

			currentDialog := p.userDialogState.FindDialogByUser(userID)
			if currentDialog == nil {
				var err error
				currentDialog, err = p.initUser(ctx, rup)
				if err != nil {
					log.Errorf("Failed to init user: %v", err)
					_, _ = app.SendMessagef(ctx, rup, "При регистрации вашего пользователя в системе произошла ошибка. Идентификатор запроса: %v", rqID)
					return
				}
			}
			if err := currentDialog.OnMessage(ctx, text, msg.MessageID); err != nil {
				log.Errorf("Failed to process message: %v", err)
				var usrErr *app.UserError
				if errors.As(err, &usrErr) {
					_, _ = app.SendMessagef(ctx, rup, "%s", usrErr.UserMessage)
				} else {
					_, _ = app.SendMessagef(ctx, rup, "При обработке сообщения возникла ошибка. Попробуйте попытку позже. Идентификатор запроса: %v", rqID)
				}
			}

		}()

	}

}

// userLock returns the lock serializing the messages of one user.
func (p *MsgProcessor) userLock(userID int64) *sync.Mutex {
	p.muLocker.Lock()
	defer p.muLocker.Unlock()
	mu, ok := p.lockByUserID[userID]
	if !ok {
		mu = new(sync.Mutex)
		p.lockByUserID[userID] = mu
	}
	return mu
}

func (p *MsgProcessor) initUser(ctx context.Context, rup app.ReqUserProvider) (mainDlg app.Dialog, err error) {
	mainDlg, err = rup.RedirectToDialog(ctx, app.DialogMain)
	if err != nil {
		return mainDlg, fmt.Errorf("failed to redirect to main dialog: %w", err)
	}
	return mainDlg, err
}

func genRequestID() string {
	rid, _ := uuid.NewRandom()
	return rid.String()
}
