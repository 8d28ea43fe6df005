package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gigabot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4096 // runes, the Bot API message cap
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30 // long-poll seconds
)

// Transcriber turns a voice recording into text.
type Transcriber interface {
	Recognize(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Telegram implements domain.Channel over the Bot API with long
// polling. Voice and audio messages are downloaded and, when a
// transcriber is configured, converted to text before publishing.
type Telegram struct {
	token     string
	allowList *AllowList
	parseMode string
	mediaDir  string
	stt       Transcriber

	bot      *tgbotapi.BotAPI
	bus      domain.MessageBus
	logger   *slog.Logger
	client   *http.Client
	stopOnce sync.Once
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs or usernames; empty allows everyone
	ParseMode string
	MediaDir  string
	STT       Transcriber // optional voice transcription
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = filepath.Join(os.TempDir(), "gigabot-media")
	}
	return &Telegram{
		token:     cfg.Token,
		allowList: NewAllowList(cfg.AllowFrom),
		parseMode: cfg.ParseMode,
		mediaDir:  cfg.MediaDir,
		stt:       cfg.STT,
		logger:    cfg.Logger,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) IsAllowed(senderID string) bool {
	return t.allowList.Allowed(senderID)
}

// Start connects to Telegram and polls for updates until ctx is
// cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.stopPolling()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop halts polling. Safe to call alongside context cancellation;
// StopReceivingUpdates panics when called twice, hence the Once.
func (t *Telegram) Stop() error {
	t.stopPolling()
	return nil
}

func (t *Telegram) stopPolling() {
	t.stopOnce.Do(func() {
		if t.bot != nil {
			t.bot.StopReceivingUpdates()
		}
	})
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	senderID := CompositeSenderID(strconv.FormatInt(msg.From.ID, 10), msg.From.UserName)
	if !t.IsAllowed(senderID) {
		logDenied(t.logger, "telegram", senderID)
		return
	}

	if msg.IsCommand() && msg.Command() == "start" {
		t.deliverText(msg.Chat.ID, "Hi! I'm GigaBot.\n\nSend me a message and I'll respond. Type /help to see available commands.")
		return
	}

	content, media := t.collectContent(ctx, msg)
	if content == "" && len(media) == 0 {
		return
	}
	if content == "" {
		content = "[empty message]"
	}

	t.logger.Info("telegram message received",
		"sender", senderID,
		"chat_id", msg.Chat.ID,
		"content_len", len(content),
	)

	action := tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)
	_, _ = t.bot.Request(action)

	metadata := map[string]string{
		"message_id": strconv.Itoa(msg.MessageID),
		"username":   msg.From.UserName,
	}
	if msg.Voice != nil {
		metadata["voice"] = "1"
	}

	t.bus.PublishInbound(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:  senderID,
		Content:   content,
		Media:     media,
		Metadata:  metadata,
		Timestamp: msg.Time(),
	})
}

// collectContent gathers text, captions, and attachments into the
// inbound content. Attachments are downloaded to the media directory
// and referenced by path; voice and audio are transcribed when a
// transcriber is available.
func (t *Telegram) collectContent(ctx context.Context, msg *tgbotapi.Message) (string, []string) {
	var parts []string
	var media []string

	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, msg.Caption)
	}

	switch {
	case msg.Voice != nil:
		path, err := t.downloadFile(ctx, msg.Voice.FileID, ".ogg")
		if err != nil {
			t.logger.Error("voice download failed", "err", err)
			parts = append(parts, "[voice: download failed]")
			break
		}
		media = append(media, path)
		if text := t.transcribe(ctx, path); text != "" {
			t.logger.Info("voice transcribed", "len", len(text))
			parts = append(parts, "[transcription: "+text+"]")
		} else {
			parts = append(parts, "[voice: "+path+"]")
		}

	case msg.Audio != nil:
		ext := filepath.Ext(msg.Audio.FileName)
		if ext == "" {
			ext = ".mp3"
		}
		path, err := t.downloadFile(ctx, msg.Audio.FileID, ext)
		if err != nil {
			t.logger.Error("audio download failed", "err", err)
			parts = append(parts, "[audio: download failed]")
			break
		}
		media = append(media, path)
		if text := t.transcribe(ctx, path); text != "" {
			parts = append(parts, "[transcription: "+text+"]")
		} else {
			parts = append(parts, "[audio: "+path+"]")
		}

	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		path, err := t.downloadFile(ctx, largest.FileID, ".jpg")
		if err != nil {
			t.logger.Error("photo download failed", "err", err)
			parts = append(parts, "[image: download failed]")
			break
		}
		media = append(media, path)
		parts = append(parts, "[image: "+path+"]")

	case msg.Document != nil:
		ext := filepath.Ext(msg.Document.FileName)
		path, err := t.downloadFile(ctx, msg.Document.FileID, ext)
		if err != nil {
			t.logger.Error("document download failed", "err", err)
			parts = append(parts, "[file: download failed]")
			break
		}
		media = append(media, path)
		parts = append(parts, "[file: "+path+"]")
	}

	return strings.Join(parts, "\n"), media
}

func (t *Telegram) downloadFile(ctx context.Context, fileID, ext string) (string, error) {
	fileURL, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(t.mediaDir, 0o755); err != nil {
		return "", err
	}
	name := fileID
	if len(name) > 16 {
		name = name[:16]
	}
	path := filepath.Join(t.mediaDir, name+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("save: %w", err)
	}
	return path, nil
}

func (t *Telegram) transcribe(ctx context.Context, path string) string {
	if t.stt == nil {
		return ""
	}
	audio, err := os.ReadFile(path)
	if err != nil {
		t.logger.Warn("cannot read voice file", "path", path, "err", err)
		return ""
	}
	text, err := t.stt.Recognize(ctx, audio, "audio/ogg;codecs=opus")
	if err != nil {
		t.logger.Warn("voice transcription failed", "err", err)
		return ""
	}
	return text
}

// Send delivers media first, then the text content in chunks.
func (t *Telegram) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not running")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	for _, path := range msg.Media {
		if err := t.sendMedia(chatID, path); err != nil {
			t.logger.Error("failed to send media", "path", path, "err", err)
			t.deliverText(chatID, "[Failed to send: "+filepath.Base(path)+"]")
		}
	}

	if msg.Content != "" {
		for _, chunk := range splitMessage(msg.Content, telegramMaxMsgLen) {
			if err := t.sendChunk(ctx, chatID, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Telegram) sendMedia(chatID int64, path string) error {
	var msg tgbotapi.Chattable
	switch mediaKind(path) {
	case "photo":
		msg = tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	case "voice":
		msg = tgbotapi.NewVoice(chatID, tgbotapi.FilePath(path))
	case "audio":
		msg = tgbotapi.NewAudio(chatID, tgbotapi.FilePath(path))
	default:
		msg = tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	}
	_, err := t.bot.Send(msg)
	return err
}

// sendChunk tries Markdown first, falls back to plain text on parse
// errors, and backs off on rate limits.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			plain := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plain); err2 == nil {
				return nil
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// deliverText sends outside the retry path, for greetings and media
// failure notes.
func (t *Telegram) deliverText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
	}
}

var _ domain.Channel = (*Telegram)(nil)
