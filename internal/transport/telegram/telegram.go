package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"membot/internal/transport"
	"membot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter sends through the Telegram Bot API via telebot.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	running   bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying client so the surrounding application can
// register its own handlers on the same connection.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, recipientID string, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	chat, err := chatFor(recipientID)
	if err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := a.bot.Send(chat, text, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chat.ID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendMedia(ctx context.Context, recipientID string, media transport.MediaRef, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	chat, err := chatFor(recipientID)
	if err != nil {
		return transport.MessageRef{}, err
	}

	var what tele.Sendable
	file := tele.File{FileID: media.FileID}
	switch media.Kind {
	case transport.MediaPhoto:
		what = &tele.Photo{File: file, Caption: caption}
	case transport.MediaVideo:
		what = &tele.Video{File: file, Caption: caption}
	case transport.MediaDocument:
		what = &tele.Document{File: file, Caption: caption}
	default:
		return transport.MessageRef{}, fmt.Errorf("unsupported media kind %q", media.Kind)
	}

	msg, err := a.bot.Send(chat, what, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chat.ID, MessageID: msg.ID}, nil
}

func chatFor(recipientID string) (*tele.Chat, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("recipient id %q is not a chat id: %w", recipientID, err)
	}
	return &tele.Chat{ID: id}, nil
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if len(opt.Buttons) > 0 {
		rm := &tele.ReplyMarkup{}
		rows := make([][]tele.InlineButton, 0, len(opt.Buttons))
		for _, row := range opt.Buttons {
			btns := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tele.InlineButton{Text: b.Label, URL: b.URL, Data: b.Data})
			}
			rows = append(rows, btns)
		}
		rm.InlineKeyboard = rows
		so.ReplyMarkup = rm
	}
	return so
}
