// Package telegram runs the bill splitting bot. Each chat gets an isolated
// session that walks from participant collection through a receipt photo to
// natural-language splitting instructions.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"splitmybill/internal/extract"
	"splitmybill/internal/llm"
	"splitmybill/internal/receipt"
	"splitmybill/internal/render"
	"splitmybill/internal/split"
	"splitmybill/internal/splitter"
)

const (
	greetingText = "Let's split a bill! Please enter participant names one by one.\n" +
		"Send /done when you've added all participants."
	rosterClosedText = "Great! Now please send a photo of the receipt."
	instructionsText = "Please describe how you want to split the bill. You can use natural language.\n" +
		"For example:\n" +
		"- 'Split everything equally between all participants'\n" +
		"- 'Alice and Bob share the pizza, everyone splits the appetizers'\n" +
		"- 'The coffee is just for Charlie, split everything else equally'"
	cancelledText = "Bill splitting cancelled."
)

// supportedPhotoExts are the receipt photo formats the vision extractor can
// take. Telegram serves photos as JPEG but documents and forwarded files
// keep their original suffix.
var supportedPhotoExts = []string{".jpg", ".jpeg", ".png", ".heic", ".heif"}

type sessionState string

const (
	stateParticipants sessionState = "collecting_participants"
	stateReceipt      sessionState = "waiting_for_receipt"
	stateInstructions sessionState = "collecting_instructions"
)

// session is one chat's progress. Its mutex serializes handling within the
// chat; cross-chat traffic never blocks on it.
type session struct {
	mu           sync.Mutex
	state        sessionState
	participants []string
	conv         *splitter.Conversation
}

// API is the part of the Telegram bot API the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot answers Telegram updates. Sessions live in memory and die with the
// process.
type Bot struct {
	api        API
	oracle     llm.Provider
	maxTurns   int
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[int64]*session
}

// New connects to Telegram with the given token. The provider handles both
// receipt extraction and split instructions and should already be wrapped
// with llm.WithRetry.
func New(token string, oracle llm.Provider, maxTurns int) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	slog.Info("Authorized on Telegram", "username", api.Self.UserName)
	return NewWithAPI(api, oracle, maxTurns), nil
}

// NewWithAPI creates a Bot over an existing API connection (for testing).
func NewWithAPI(api API, oracle llm.Provider, maxTurns int) *Bot {
	return &Bot{
		api:        api,
		oracle:     oracle,
		maxTurns:   maxTurns,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   make(map[int64]*session),
	}
}

// Run long-polls for updates until ctx is cancelled or the update channel
// closes. In-flight messages finish before it returns.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := b.api.GetUpdatesChan(cfg)

	slog.Info("Listening for Telegram updates...")

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil {
				continue
			}

			inflight.Add(1)
			go func() {
				defer inflight.Done()
				b.handleMessage(ctx, msg)
			}()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.IsCommand() && msg.Command() == "start" {
		b.startSession(chatID)
		b.reply(chatID, greetingText)
		return
	}

	sess := b.lookup(chatID)
	if sess == nil {
		// Only /start opens a session
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch {
	case msg.IsCommand():
		b.handleCommand(chatID, sess, msg.Command())
	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, chatID, sess, msg.Photo)
	default:
		b.handleText(ctx, chatID, sess, msg.Text)
	}
}

func (b *Bot) handleCommand(chatID int64, sess *session, command string) {
	switch command {
	case "done":
		if sess.state != stateParticipants {
			return
		}
		if len(sess.participants) < 2 {
			b.reply(chatID, "Error: At least 2 participants are required")
			return
		}
		sess.state = stateReceipt
		b.reply(chatID, rosterClosedText)
	case "cancel":
		if sess.conv != nil {
			sess.conv.Cancel()
		}
		b.dropSession(chatID)
		b.reply(chatID, cancelledText)
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, sess *session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	switch sess.state {
	case stateParticipants:
		b.addParticipant(chatID, sess, text)
	case stateInstructions:
		b.handleInstructions(ctx, chatID, sess, text)
	}
}

func (b *Bot) addParticipant(chatID int64, sess *session, name string) {
	if slices.Contains(sess.participants, name) {
		b.reply(chatID, fmt.Sprintf("Error: %s is already added", name))
		return
	}

	sess.participants = append(sess.participants, name)
	b.reply(chatID, fmt.Sprintf("Added %s. Current participants: %s\nAdd another participant or send /done when finished.",
		name, strings.Join(sess.participants, ", ")))
}

func (b *Bot) handlePhoto(ctx context.Context, chatID int64, sess *session, photos []tgbotapi.PhotoSize) {
	if sess.state != stateReceipt {
		return
	}

	// Sizes come smallest first
	fileURL, err := b.api.GetFileDirectURL(photos[len(photos)-1].FileID)
	if err != nil {
		b.replyReceiptError(chatID, err)
		return
	}

	ext := strings.ToLower(path.Ext(fileURL))
	if !slices.Contains(supportedPhotoExts, ext) {
		b.reply(chatID, fmt.Sprintf("Unsupported image format %s. Supported formats are: %s",
			ext, strings.Join(supportedPhotoExts, ", ")))
		return
	}

	data, err := b.download(ctx, fileURL)
	if err != nil {
		b.replyReceiptError(chatID, err)
		return
	}

	rec, err := extract.NewVision(data, extract.MIMEFromPath(fileURL), b.oracle).Extract(ctx)
	if err != nil {
		b.replyReceiptError(chatID, err)
		return
	}
	receipt.LogWarnings(slog.Default(), receipt.CheckArithmetic(rec))

	conv := splitter.NewConversation(rec, b.oracle)
	if b.maxTurns > 0 {
		conv.SetMaxTurns(b.maxTurns)
	}
	for _, name := range sess.participants {
		if err := conv.AddParticipant(name); err != nil {
			b.replyReceiptError(chatID, err)
			return
		}
	}
	if err := conv.BeginInstructions(); err != nil {
		b.replyReceiptError(chatID, err)
		return
	}

	sess.conv = conv
	sess.state = stateInstructions
	b.reply(chatID, instructionsText)
}

func (b *Bot) replyReceiptError(chatID int64, err error) {
	slog.Error("Failed to process receipt", "chat_id", chatID, "error", err)
	b.reply(chatID, fmt.Sprintf("Error processing receipt: %v\nPlease try uploading the image again.", err))
}

func (b *Bot) handleInstructions(ctx context.Context, chatID int64, sess *session, text string) {
	outcome, err := sess.conv.Instruct(ctx, text)
	if err != nil {
		if errors.Is(err, splitter.ErrTooManyTurns) {
			b.dropSession(chatID)
			b.reply(chatID, cancelledText)
			return
		}
		slog.Error("Failed to process instructions", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Error processing instructions: %v\nPlease try again.", err))
		return
	}

	if outcome.Split == nil {
		b.reply(chatID, outcome.Question)
		return
	}

	b.sendSplit(chatID, outcome.Split)
	b.dropSession(chatID)
}

// sendSplit sends the fenced breakdown tables as one markdown message and
// the final totals as a plain one.
func (b *Bot) sendSplit(chatID int64, result *split.BillSplit) {
	tables, err := render.TablesMessage(result)
	if err != nil {
		slog.Error("Failed to render split", "chat_id", chatID, "error", err)
		return
	}
	msg := tgbotapi.NewMessage(chatID, tables)
	msg.ParseMode = tgbotapi.ModeMarkdown
	b.send(msg)

	totals, err := render.FinalTotalsMessage(result)
	if err != nil {
		slog.Error("Failed to render totals", "chat_id", chatID, "error", err)
		return
	}
	b.reply(chatID, totals)
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading photo: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	return data, nil
}

func (b *Bot) startSession(chatID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess := &session{state: stateParticipants}
	b.sessions[chatID] = sess
	return sess
}

func (b *Bot) lookup(chatID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[chatID]
}

func (b *Bot) dropSession(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, chatID)
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		slog.Error("Failed to send message", "chat_id", msg.ChatID, "error", err)
	}
}
