package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	Token string
	// Endpoint is a Bot API URL format with two %s verbs (token, method).
	Endpoint string
	// RatePerSec bounds sends across every run sharing the transport.
	RatePerSec  float64
	CallTimeout time.Duration
}

// Telegram delivers through the Bot API.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// NewTelegram authenticates with the Bot API (getMe) and returns a transport.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: cfg.CallTimeout}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", classify(err))
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Telegram{bot: bot, limiter: rate.NewLimiter(limit, 1)}, nil
}

// Bot exposes the shared client for the update listener.
func (t *Telegram) Bot() *tgbotapi.BotAPI {
	return t.bot
}

func (t *Telegram) SendText(ctx context.Context, recipient, text string) error {
	msg := tgbotapi.NewMessage(0, text)
	if err := setChat(&msg.BaseChat, recipient); err != nil {
		return err
	}
	return t.send(ctx, msg)
}

func (t *Telegram) SendFile(ctx context.Context, recipient, path, caption string) error {
	video := tgbotapi.NewVideo(0, tgbotapi.FilePath(path))
	video.Caption = caption
	video.SupportsStreaming = true
	if err := setChat(&video.BaseChat, recipient); err != nil {
		return err
	}
	return t.send(ctx, video)
}

// Probe calls getMe.
func (t *Telegram) Probe(ctx context.Context) error {
	return t.call(ctx, func() error {
		_, err := t.bot.GetMe()
		return err
	})
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	return t.call(ctx, func() error {
		_, err := t.bot.Send(c)
		return err
	})
}

// call waits for the rate limiter and runs fn. ctx only bounds the wait: the
// request itself is bounded by the HTTP client timeout, so a retry never
// starts while an earlier attempt is still uploading.
func (t *Telegram) call(ctx context.Context, fn func() error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return classify(fn())
}

// classify marks Bot API client errors other than rate limiting as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	code := 0
	var apiErr *tgbotapi.Error
	var apiErrValue tgbotapi.Error
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrValue):
		code = apiErrValue.Code
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	return err
}

// setChat accepts a numeric chat id or an @channel username.
func setChat(chat *tgbotapi.BaseChat, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if strings.HasPrefix(recipient, "@") {
		chat.ChannelUsername = recipient
		return nil
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid telegram recipient %q", ErrPermanent, recipient)
	}
	chat.ChatID = id
	return nil
}
