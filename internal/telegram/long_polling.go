package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vm-affekt/mediafetch/internal/logging"
)

// Run connects to Telegram and dispatches updates until ctx is done.
// Messages already being handled are not interrupted.
func (p *MsgProcessor) Run(ctx context.Context, updTimeout int) error {
	if err := p.StartLongPolling(ctx, updTimeout); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop(ctx)
	return nil
}

func (p *MsgProcessor) StartLongPolling(ctx context.Context, updTimeout int) error {
	if err := p.connect(); err != nil {
		return fmt.Errorf("failed to connect Telegram server: %w", err)
	}
	updCfg := tgbotapi.NewUpdate(0)
	updCfg.Timeout = updTimeout

	p.updates = p.bot.GetUpdatesChan(updCfg)
	p.startDispatcher(ctx)

	logging.FromContextS(ctx).Infof("Long polling started as @%s. Bot is ready!", p.bot.Self.UserName)
	return nil
}

// Stop stops receiving updates and waits for the listener to drain.
func (p *MsgProcessor) Stop(ctx context.Context) {
	if p.bot == nil {
		return
	}
	p.bot.StopReceivingUpdates()
	if p.listenerDone != nil {
		<-p.listenerDone
	}
	logging.FromContextS(ctx).Info("Long polling stopped")
}
