package download

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vm-affekt/mediafetch/internal/app"
	"github.com/vm-affekt/mediafetch/internal/downloader"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/media"
)

const (
	btnStop   = "Прервать"
	btnStatus = "Статус"

	btnAudio       = "Аудио"
	btnVideo       = "Видео"
	btnAudioAll    = "Аудио (весь плейлист)"
	btnVideoAll    = "Видео (весь плейлист)"
	btnChooseAgain = "Отмена"
)

var keyboardOnWait = tgbotapi.NewOneTimeReplyKeyboard(
	[]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButton(btnStop),
		tgbotapi.NewKeyboardButton(btnStatus),
	},
)

var keyboardChooseKind = tgbotapi.NewOneTimeReplyKeyboard(
	[]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButton(btnAudio),
		tgbotapi.NewKeyboardButton(btnVideo),
	},
	[]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButton(btnAudioAll),
		tgbotapi.NewKeyboardButton(btnVideoAll),
	},
	[]tgbotapi.KeyboardButton{
		tgbotapi.NewKeyboardButton(btnChooseAgain),
	},
)

type choice struct {
	kind media.OutputKind
	mode media.CollectionMode
}

var choices = map[string]choice{
	btnAudio:    {media.Audio, media.Single},
	btnVideo:    {media.Video, media.Single},
	btnAudioAll: {media.Audio, media.Collection},
	btnVideoAll: {media.Video, media.Collection},
}

const defaultMaxFileSizeMB = 48

type dialog struct {
	rup                app.ReqUserProvider
	validator          app.LinkValidator
	downloadService    app.DownloadService
	downloadingTimeout time.Duration
	maxFileSize        int64

	statusMx             sync.Mutex
	link                 string
	isDownloadInProgress bool
	status               *downloadStatus
	messagesToDelete     messagesToDelete
}

type downloadStatus struct {
	progress downloader.Progress
	cancel   func()
}

type messagesToDelete struct {
	mu  sync.Mutex
	ids []int
}

func (mtd *messagesToDelete) addMessage(id int) {
	mtd.mu.Lock()
	defer mtd.mu.Unlock()
	mtd.ids = append(mtd.ids, id)
}

func (mtd *messagesToDelete) getIDs() []int {
	mtd.mu.Lock()
	defer mtd.mu.Unlock()
	return mtd.ids
}

func New(
	rup app.ReqUserProvider,
	validator app.LinkValidator,
	downloadService app.DownloadService,
	downloadingTimeout time.Duration,
	maxFileSizeMB int64,
) app.Dialog {
	if maxFileSizeMB == 0 {
		maxFileSizeMB = defaultMaxFileSizeMB
	}
	return &dialog{
		rup:                rup,
		validator:          validator,
		downloadService:    downloadService,
		downloadingTimeout: downloadingTimeout,
		maxFileSize:        megabytesToBytes(maxFileSizeMB),
	}
}

func (d *dialog) OnEnter(ctx context.Context) error {
	log := logging.FromContextS(ctx)
	log.Info("User entered to download dialog")
	return nil
}

func (d *dialog) OnMessage(ctx context.Context, text string, msgID int) error {
	if d.isDownloading() {
		d.messagesToDelete.addMessage(msgID)
		return d.onDownloading(ctx, text)
	}
	if err := d.validator.Validate(text); err == nil {
		return d.askKind(ctx, text)
	}
	if text == btnChooseAgain {
		_, err := d.rup.RedirectToDialog(ctx, app.DialogMain)
		if err != nil {
			return err
		}
		_, err = app.SendMessagef(ctx, d.rup, "Хорошо. Отправьте другую ссылку, когда будете готовы.")
		return err
	}
	c, ok := choices[text]
	link := d.pendingLink()
	if !ok || link == "" {
		return app.NewUserError("Выберите формат на клавиатуре или отправьте новую ссылку")
	}
	req, err := media.NewRequest(link, c.kind, c.mode)
	if err != nil {
		return app.NewUserError("Ссылка не распознана. Отправьте ее еще раз").WithCause(err)
	}
	d.setDownloading(true)
	go d.startDownloading(ctx, req)
	return nil
}

func (d *dialog) askKind(ctx context.Context, link string) error {
	d.statusMx.Lock()
	d.link = link
	d.statusMx.Unlock()
	_, err := d.rup.SendMessageWithKeyboardf(ctx, &keyboardChooseKind,
		"Что скачать? Для плейлистов можно загрузить все ролики сразу, они придут одним ZIP-архивом.")
	return err
}

func (d *dialog) pendingLink() string {
	d.statusMx.Lock()
	defer d.statusMx.Unlock()
	return d.link
}

func (d *dialog) sendMsgWithKeyboardf(ctx context.Context, text string, vals ...interface{}) (err error) {
	_, err = d.rup.SendMessageWithKeyboardf(ctx, &keyboardOnWait, text, vals...)
	return err
}

func (d *dialog) sendMsgWithKeyboardThenDeletef(ctx context.Context, text string, vals ...interface{}) (err error) {
	msgID, err := d.rup.SendMessageWithKeyboardf(ctx, &keyboardOnWait, text, vals...)
	if err != nil {
		return err
	}
	d.messagesToDelete.addMessage(msgID)
	return nil
}

func (d *dialog) isDownloading() bool {
	d.statusMx.Lock()
	defer d.statusMx.Unlock()
	return d.isDownloadInProgress
}

func (d *dialog) setDownloading(v bool) {
	d.statusMx.Lock()
	defer d.statusMx.Unlock()
	d.isDownloadInProgress = v
}

// observe stores the latest state of the running download.
func (d *dialog) observe(p downloader.Progress) {
	d.statusMx.Lock()
	defer d.statusMx.Unlock()
	if d.status == nil {
		return
	}
	if p.Title == "" {
		p.Title = d.status.progress.Title
	}
	d.status.progress = p
}

func (d *dialog) currentStatus() (downloader.Progress, bool) {
	d.statusMx.Lock()
	defer d.statusMx.Unlock()
	if d.status == nil {
		return downloader.Progress{}, false
	}
	return d.status.progress, true
}

func (d *dialog) printCurrentDownloadStatus(ctx context.Context) error {
	log := logging.FromContextS(ctx)
	log.Info("User requested progress status of downloading.")
	p, ok := d.currentStatus()
	if !ok {
		return d.sendMsgWithKeyboardThenDeletef(ctx, "Загрузка еще не началась...")
	}
	var header string
	if p.Total > 1 && p.Item > 0 {
		header = fmt.Sprintf("Элемент <b>%d</b> из <b>%d</b>: <i>%s</i>\n", p.Item, p.Total, html.EscapeString(p.Title))
	}
	switch p.State {
	case downloader.StateIdle, downloader.StateResolving:
		return d.sendMsgWithKeyboardThenDeletef(ctx, "Получаю информацию о ссылке...")
	case downloader.StateTranscoding:
		return d.sendMsgWithKeyboardThenDeletef(ctx, "%sКонвертирую файл...", header)
	case downloader.StatePackaging:
		return d.sendMsgWithKeyboardThenDeletef(ctx, "Упаковываю файлы в архив...")
	case downloader.StateFetching:
	default:
		return d.sendMsgWithKeyboardThenDeletef(ctx, "Загрузка завершается...")
	}

	pc := p.Counter
	if pc == nil {
		return d.sendMsgWithKeyboardThenDeletef(ctx, "%sЗагрузка начинается...", header)
	}
	contentLen := pc.ContentLen()
	currentDownloaded := pc.CurrentDownloaded()
	if contentLen == 0 {
		return d.sendMsgWithKeyboardThenDeletef(ctx, "%sНа данный момент загружено <b>%s</b>. Определить прогресс в процентах для данного видео невозможно...",
			header, humanize.IBytes(uint64(currentDownloaded)))
	}
	var estimatedTimeS string
	estimatedTime, err := pc.EstimatedTime()
	if err != nil {
		log.Warnf("Failed to count estimated time by reason: %v", err)
		estimatedTimeS = "???"
	} else {
		estimatedTimeS = estimatedTime.Round(time.Second).String()
	}
	return d.sendMsgWithKeyboardThenDeletef(ctx, "%sНа данный момент загружено\n<i>%s</i> из <i>%s</i>: <b>%.2f%%</b>\nПриблизительно осталось: <b>%s</b>",
		header, humanize.IBytes(uint64(currentDownloaded)), humanize.IBytes(uint64(contentLen)), pc.Percentage(), estimatedTimeS)
}

func (d *dialog) onDownloading(ctx context.Context, text string) error {
	if err := d.validator.Validate(text); err == nil {
		return d.sendMsgWithKeyboardThenDeletef(ctx, "Вы не можете скачивать другие видео/аудио, пока не завершится текущая загрузка! Вы можете ее отменить.")
	}
	if text == btnStop {
		if err := d.stopDownloading(ctx); err != nil {
			return fmt.Errorf("failed to stop downloading: %w", err)
		}
		return nil
	}
	if err := d.printCurrentDownloadStatus(ctx); err != nil {
		return fmt.Errorf("failed to print current download status: %w", err)
	}
	return nil
}

func (d *dialog) startDownloading(ctx context.Context, req media.Request) {
	log := logging.FromContextS(ctx)
	startT := time.Now()
	defer func() {
		log.Infof("Elapsed time of downloading %s %q is %v", req.Kind(), req.SourceURL(), time.Since(startT).String())
		d.setDownloading(false)
		_, _ = d.rup.RedirectToDialog(logging.CopyContext(ctx, context.Background()), app.DialogMain)
	}()
	if err := d.download(ctx, req); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infof("Download of %q was cancelled: %v", req.SourceURL(), err)
			return
		}
		log.Errorf("Failed to download %q: %v", req.SourceURL(), err)
		var title string
		if p, ok := d.currentStatus(); ok {
			title = p.Title
		}
		_, _ = app.SendMessagef(logging.CopyContext(ctx, context.Background()), d.rup, "%s", failureMessage(title, err))
	}
}

func (d *dialog) download(msgCtx context.Context, req media.Request) error {
	ctx := logging.CopyContext(msgCtx, context.Background())
	var cancel func()
	if d.downloadingTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.downloadingTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	log := logging.FromContextS(ctx)
	log.Infof("Starting download %s by link: %q", req.Kind(), req.SourceURL())

	d.statusMx.Lock()
	d.status = &downloadStatus{
		progress: downloader.Progress{State: downloader.StateIdle},
		cancel:   cancel,
	}
	d.statusMx.Unlock()

	startMsg := "Загрузка началась. Вы можете отменить или узнать статус загрузки, нажав соответствующие кнопки на клавиатуре."
	if req.Mode() == media.Collection {
		startMsg += "\n\nЕсли ссылка ведет на плейлист, все ролики будут отправлены одним ZIP-архивом. Недоступные ролики будут пропущены."
	}
	if err := d.sendMsgWithKeyboardf(ctx, startMsg); err != nil {
		return err
	}

	res, err := d.downloadService.Download(ctx, req, d.observe)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Warnf("Failed to clean up download workspace: %v", err)
		}
	}()

	artifact := res.Artifact
	if artifact.Size > d.maxFileSize {
		return app.NewUserError(fmt.Sprintf(
			"Файл <b>%s</b> весит %s, а Telegram позволяет ботам отправлять файлы не больше %s.",
			html.EscapeString(artifact.FileName), humanize.IBytes(uint64(artifact.Size)), humanize.IBytes(uint64(d.maxFileSize)),
		))
	}
	log.Infof("Began to upload %q (%s)...", artifact.FileName, humanize.IBytes(uint64(artifact.Size)))
	if err := d.rup.SendFile(ctx, artifact); err != nil {
		return fmt.Errorf("failed to send file: %w", err)
	}

	log.Info("Successfully downloaded!")
	if _, err := app.SendMessagef(ctx, d.rup, "%s", successMessage(res)); err != nil {
		return err
	}
	go func() {
		if err := d.clearMessages(logging.CopyContext(msgCtx, context.Background())); err != nil {
			log.Errorf("Failed to delete messages: %v", err)
		}
	}()
	return nil
}

func (d *dialog) clearMessages(ctx context.Context) error {
	return d.rup.DeleteMessages(ctx, d.messagesToDelete.getIDs()...)
}

func (d *dialog) stopDownloading(ctx context.Context) error {
	log := logging.FromContextS(ctx)
	log.Info("User requested to stop downloading!")
	d.statusMx.Lock()
	status := d.status
	d.statusMx.Unlock()
	if status != nil {
		status.cancel()
	}
	if _, err := app.SendMessagef(ctx, d.rup, "Вы успешно прервали загрузку."); err != nil {
		return err
	}
	return nil
}

func successMessage(res *downloader.Result) string {
	msg := &strings.Builder{}
	_, _ = fmt.Fprintf(msg, "<b>%s</b> успешно и полностью загружено!", html.EscapeString(res.Title))
	if res.Skipped() == 0 {
		return msg.String()
	}
	_, _ = fmt.Fprintf(msg, "\n\nЗагружено элементов: <b>%d</b>, пропущено: <b>%d</b>", res.Succeeded(), res.Skipped())
	for _, o := range res.Outcomes {
		if o.Succeeded() {
			continue
		}
		_, _ = fmt.Fprintf(msg, "\n%d. %s: <i>%s</i>", o.Item.Index, html.EscapeString(o.Item.Title), reasonText(o.Reason()))
	}
	return msg.String()
}

func failureMessage(title string, err error) string {
	var usrErr *app.UserError
	if errors.As(err, &usrErr) {
		return usrErr.UserMessage
	}
	msg := &strings.Builder{}
	if title != "" {
		_, _ = fmt.Fprintf(msg, "Не удалось скачать <b>%s</b>. ", html.EscapeString(title))
	} else {
		msg.WriteString("Не удалось скачать файл по данной ссылке. ")
	}
	msg.WriteString(reasonText(media.KindOf(err)))
	_, _ = fmt.Fprintf(msg, "\n\nТекст ошибки:\n<code>%s</code>", html.EscapeString(err.Error()))
	return msg.String()
}

func reasonText(kind string) string {
	switch kind {
	case media.KindInvalidURL:
		return "Ссылка не распознана."
	case media.KindResolution:
		return "Ролик недоступен: он может быть приватным, удаленным или ограниченным по возрасту."
	case media.KindUpstreamUnavailable:
		return "Платформа отказалась отдавать медиапоток. Повторите попытку позже!"
	case media.KindNetwork:
		return "Произошла сетевая ошибка. Повторите попытку позже!"
	case media.KindWrite:
		return "Не удалось сохранить файл на сервере."
	case media.KindTranscoderNotFound:
		return "На сервере не установлен ffmpeg."
	case media.KindTranscode:
		return "Не удалось сконвертировать файл."
	case media.KindPackaging:
		return "Не удалось собрать результат: ни один элемент не был загружен."
	case media.KindCancelled:
		return "Загрузка прервана."
	}
	return "Произошла техническая ошибка. Повторите попытку позже!"
}

const oneMB = 1048576

func megabytesToBytes(mbs int64) int64 {
	return mbs * oneMB
}
