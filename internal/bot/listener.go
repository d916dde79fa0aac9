// Package bot accepts videos sent straight to the Telegram bot and runs them
// through the pipeline, replying to the sender's chat.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/your-org/shortsplit/internal/delivery"
	"github.com/your-org/shortsplit/internal/pipeline"
	"github.com/your-org/shortsplit/pkg/logger"
)

const (
	MsgProcessing = "⏳ Processing your video..."
	MsgSendVideo  = "📹 Please send a video to process into parts"
	MsgError      = "❌ Error: %v"
)

// API resolves uploaded files to download URLs.
type API interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Launcher starts a pipeline run.
type Launcher interface {
	Launch(ctx context.Context, req pipeline.Request) string
}

// Listener handles incoming updates. Replies go through the shared delivery
// transport, so they share its rate limit and retry policy with part uploads.
type Listener struct {
	api         API
	replies     delivery.Transport
	runs        Launcher
	downloadDir string
	client      *http.Client
	logger      *zap.Logger
}

type Params struct {
	API         API
	Replies     delivery.Transport
	Runs        Launcher
	DownloadDir string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

func NewListener(p Params) *Listener {
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if p.DownloadDir == "" {
		p.DownloadDir = "."
	}
	return &Listener{
		api:         p.API,
		replies:     p.Replies,
		runs:        p.Runs,
		downloadDir: p.DownloadDir,
		client:      p.HTTPClient,
		logger:      logger.Component(p.Logger, "bot"),
	}
}

// Handle processes one update. Videos are downloaded and launched as runs to
// the sender's chat; any other message gets a usage hint.
func (l *Listener) Handle(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}

	fileID, name := videoOf(msg)
	if fileID == "" {
		return l.reply(ctx, msg, MsgSendVideo)
	}

	log := l.logger.With(zap.Int64("chat_id", msg.Chat.ID), zap.Int("message_id", msg.MessageID))
	if err := l.reply(ctx, msg, MsgProcessing); err != nil {
		log.Warn("send processing reply failed", zap.Error(err))
	}

	path := filepath.Join(l.downloadDir, fmt.Sprintf("video_%d_%d%s", msg.Chat.ID, msg.MessageID, extension(name)))
	if err := l.download(ctx, fileID, path); err != nil {
		log.Error("download video failed", zap.Error(err))
		if replyErr := l.reply(ctx, msg, fmt.Sprintf(MsgError, err)); replyErr != nil {
			log.Warn("send error reply failed", zap.Error(replyErr))
		}
		return err
	}

	runID := l.runs.Launch(ctx, pipeline.Request{
		Source:    path,
		Filename:  name,
		Recipient: strconv.FormatInt(msg.Chat.ID, 10),
	})
	log.Info("video received", zap.String("run_id", runID), zap.String("path", path))
	return nil
}

func (l *Listener) reply(ctx context.Context, msg *tgbotapi.Message, text string) error {
	return l.replies.SendText(ctx, strconv.FormatInt(msg.Chat.ID, 10), text)
}

func (l *Listener) download(ctx context.Context, fileID, path string) error {
	url, err := l.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: unexpected status %s", resp.Status)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()     //nolint:errcheck
		os.Remove(path) //nolint:errcheck
		return fmt.Errorf("save file: %w", err)
	}
	return out.Close()
}

// videoOf returns the file id and name of a video attached to msg, either as a
// video or as a document with a video MIME type.
func videoOf(msg *tgbotapi.Message) (string, string) {
	switch {
	case msg.Video != nil:
		return msg.Video.FileID, ""
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/"):
		return msg.Document.FileID, msg.Document.FileName
	default:
		return "", ""
	}
}

func extension(name string) string {
	if ext := filepath.Ext(name); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ".mp4"
}

// Poll removes any webhook and processes long-polled updates until ctx ends.
func (l *Listener) Poll(ctx context.Context, bot *tgbotapi.BotAPI) error {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := bot.GetUpdatesChan(cfg)
	l.logger.Info("polling for updates", zap.String("bot", bot.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := l.Handle(ctx, update); err != nil {
				l.logger.Warn("handle update failed", zap.Int("update_id", update.UpdateID), zap.Error(err))
			}
		}
	}
}

// RegisterWebhook points the bot at url.
func RegisterWebhook(bot *tgbotapi.BotAPI, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// WebhookHandler decodes pushed updates and handles them in the background,
// detached from the request.
func (l *Listener) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"status": "error"}) //nolint:errcheck
			return
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"status": "error"}) //nolint:errcheck
			return
		}

		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := l.Handle(ctx, update); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Warn("handle update failed", zap.Int("update_id", update.UpdateID), zap.Error(err))
			}
		}()
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
	})
}
