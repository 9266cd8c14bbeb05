// Package bot runs the chat-command poller that records transactions sent
// to a Telegram bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jizhang/internal/command"
	"jizhang/internal/core"
)

// ErrEndpointAuth is returned by a Messenger when the endpoint rejects the bot credentials.
var ErrEndpointAuth = errors.New("messaging endpoint rejected credentials")

// State is the poller's externally visible condition.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDegraded:
		return "degraded"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Update is one inbound item from the messaging endpoint. HasMessage is false
// for update kinds the poller does not handle; they still advance the cursor.
type Update struct {
	ID         int64
	ChatID     int64
	Text       string
	HasMessage bool
}

// Messenger is the remote messaging endpoint.
type Messenger interface {
	// Updates returns pending updates with ID >= offset.
	Updates(ctx context.Context, offset int64) ([]Update, error)
	Send(ctx context.Context, chatID int64, text string) error
}

// Dialer connects a Messenger for a bot token.
type Dialer func(ctx context.Context, token string) (Messenger, error)

// SettingsSource supplies the bot authorization state. It is read at the
// start of every cycle.
type SettingsSource interface {
	BotSettings(ctx context.Context) (core.BotSettings, error)
}

// CursorStore persists the last handled update id.
type CursorStore interface {
	Cursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, id int64) error
}

// Ledger is the part of the ledger the poller writes to.
type Ledger interface {
	Create(ctx context.Context, d core.TransactionDraft) (core.Transaction, error)
	Totals(ctx context.Context) (core.Totals, error)
	Registry() *core.Registry
}

// Config holds poller timeouts and backoff limits.
type Config struct {
	// FetchTimeout bounds a single fetch, including the endpoint's long poll.
	FetchTimeout time.Duration

	// SendTimeout bounds a single reply attempt.
	SendTimeout time.Duration

	// ReplyAttempts is how many times a reply is tried before giving up.
	ReplyAttempts int

	// ReplyRetryDelay is the pause between reply attempts.
	ReplyRetryDelay time.Duration

	// MaxBackoff caps the wait after consecutive fetch failures.
	MaxBackoff time.Duration

	// Location decides which calendar day "today" is for recorded transactions.
	Location *time.Location
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		FetchTimeout:    45 * time.Second,
		SendTimeout:     10 * time.Second,
		ReplyAttempts:   2,
		ReplyRetryDelay: 500 * time.Millisecond,
		MaxBackoff:      time.Minute,
		Location:        time.Local,
	}
}

// Poller fetches chat messages, applies the commands they carry to the
// ledger and replies. It never stops on its own while running.
type Poller struct {
	settings SettingsSource
	cursor   CursorStore
	ledger   Ledger
	dial     Dialer
	config   Config
	metrics  *Metrics
	now      func() time.Time

	state atomic.Int32

	// Owned by the cycle; RunCycle must not be called concurrently.
	messenger   Messenger
	token       string
	failures    int
	cursorFloor int64

	// Lifecycle management
	mu       sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPoller creates a poller. A nil metrics records nothing.
func NewPoller(settings SettingsSource, cursor CursorStore, ledger Ledger, dial Dialer, config Config, metrics *Metrics) *Poller {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	def := DefaultConfig()
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = def.FetchTimeout
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = def.SendTimeout
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.Location == nil {
		config.Location = def.Location
	}
	return &Poller{
		settings: settings,
		cursor:   cursor,
		ledger:   ledger,
		dial:     dial,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
	}
}

// State returns the current poller state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(ctx context.Context, s State) {
	if old := State(p.state.Swap(int32(s))); old != s {
		slog.InfoContext(ctx, "Bot poller state changed", "from", old, "to", s)
	}
	p.metrics.setState(s)
}

// Start begins the polling loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("bot poller is already running")
	}
	p.running = true
	p.stopping = false
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Bot poller started")
	return nil
}

// Stop signals the loop and waits for it to exit. A batch being applied is
// finished first; a fetch in flight is abandoned. Stop may be called again
// after it timed out, or concurrently, to keep waiting for the same loop.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	if !p.stopping {
		p.stopping = true
		close(p.stopCh)
	}
	doneCh := p.doneCh
	p.mu.Unlock()

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Bot poller stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Bot poller stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the poller loop is currently running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.stopping = false
		p.mu.Unlock()
		close(doneCh)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait := p.RunCycle(ctx)

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle performs one polling cycle and returns how long to wait before
// the next one.
func (p *Poller) RunCycle(ctx context.Context) time.Duration {
	settings, err := p.settings.BotSettings(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read bot settings", "error", err)
		p.metrics.cycle("settings_error")
		p.setState(ctx, StateIdle)
		return core.DefaultPollInterval
	}

	interval := settings.Interval()
	if !settings.Active() {
		p.metrics.cycle("disabled")
		p.setState(ctx, StateIdle)
		p.messenger, p.token, p.failures = nil, "", 0
		return interval
	}

	m, err := p.messengerFor(ctx, settings.Token)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return p.fetchFailed(ctx, interval, err)
	}

	offset, err := p.nextOffset(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read bot cursor", "error", err)
		p.metrics.cycle("cursor_error")
		return interval
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	updates, err := m.Updates(fetchCtx, offset)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return p.fetchFailed(ctx, interval, err)
	}

	p.failures = 0
	p.metrics.fetched()
	p.setState(ctx, StatePolling)

	if len(updates) == 0 {
		p.metrics.cycle("empty")
		return interval
	}

	// The batch runs to completion even when a stop arrives mid-way.
	p.applyBatch(context.WithoutCancel(ctx), m, settings, updates)
	p.metrics.cycle("ok")
	return 0
}

func (p *Poller) messengerFor(ctx context.Context, token string) (Messenger, error) {
	if p.messenger != nil && p.token == token {
		return p.messenger, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	m, err := p.dial(dialCtx, token)
	if err != nil {
		return nil, fmt.Errorf("connect messaging endpoint: %w", err)
	}
	p.messenger, p.token = m, token
	return m, nil
}

func (p *Poller) nextOffset(ctx context.Context) (int64, error) {
	stored, err := p.cursor.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	return max(stored, p.cursorFloor) + 1, nil
}

// fetchFailed records a failed fetch and returns the backoff delay.
func (p *Poller) fetchFailed(ctx context.Context, interval time.Duration, err error) time.Duration {
	p.failures++
	delay := p.backoff(interval)

	reason := "transient"
	if errors.Is(err, ErrEndpointAuth) {
		reason = "auth"
		// Force a fresh dial once the token is fixed.
		p.messenger, p.token = nil, ""
		p.setState(ctx, StateDegraded)
		slog.ErrorContext(ctx, "Messaging endpoint rejected bot credentials",
			"failures", p.failures,
			"retry_in", delay,
			"error", err)
	} else {
		if p.failures >= 3 {
			p.setState(ctx, StateDegraded)
		}
		slog.WarnContext(ctx, "Failed to fetch bot updates",
			"failures", p.failures,
			"retry_in", delay,
			"error", err)
	}

	p.metrics.fetchFailed(reason)
	p.metrics.cycle("fetch_error")
	return delay
}

// backoff doubles interval for every consecutive failure, capped at MaxBackoff.
func (p *Poller) backoff(interval time.Duration) time.Duration {
	delay := interval
	for i := 1; i < p.failures && delay < p.config.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, p.config.MaxBackoff)
}

func (p *Poller) applyBatch(ctx context.Context, m Messenger, settings core.BotSettings, updates []Update) {
	last := int64(0)
	for _, u := range updates {
		last = max(last, u.ID)
		if !u.HasMessage {
			continue
		}
		p.handleSafely(ctx, m, settings, u)
	}

	if last <= p.cursorFloor {
		return
	}
	p.cursorFloor = last
	if err := p.cursor.SaveCursor(ctx, last); err != nil {
		slog.ErrorContext(ctx, "Failed to save bot cursor", "update_id", last, "error", err)
	}
}

func (p *Poller) handleSafely(ctx context.Context, m Messenger, settings core.BotSettings, u Update) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.message("panic")
			slog.ErrorContext(ctx, "Recovered from panic handling chat message",
				"update_id", u.ID,
				"chat_id", u.ChatID,
				"panic", r)
		}
	}()

	text, result := p.handle(ctx, settings, u)
	p.metrics.message(result)
	p.reply(ctx, m, u.ChatID, text)
}

// handle applies one message and returns the reply text and a result label.
func (p *Poller) handle(ctx context.Context, settings core.BotSettings, u Update) (string, string) {
	// Anyone may ask for their chat id so it can be added to the allow-list.
	// Everything else is authorized before any argument parsing.
	if command.Name(u.Text) != "myid" {
		if err := settings.Authorize(u.ChatID); err != nil {
			slog.WarnContext(ctx, "Rejected message from unauthorized chat",
				"update_id", u.ID,
				"chat_id", u.ChatID,
				"error", err)
			return deniedText(u.ChatID), "denied"
		}
	}

	cmd := command.Parse(u.Text)

	switch c := cmd.(type) {
	case command.AddExpense:
		return p.record(ctx, u, c)
	case command.AddIncome:
		return p.record(ctx, u, c)
	case command.Help:
		return usageText, "help"
	case command.WhoAmI:
		return whoAmIText(u.ChatID), "whoami"
	case *command.ParseError:
		slog.InfoContext(ctx, "Malformed chat command",
			"update_id", u.ID,
			"chat_id", u.ChatID,
			"error", c)
		return parseErrorText(c), "parse_error"
	case command.Unrecognized:
		return unrecognizedText, "unrecognized"
	default:
		return unrecognizedText, "unrecognized"
	}
}

func (p *Poller) record(ctx context.Context, u Update, e command.Entry) (string, string) {
	d := e.Draft(core.DateOf(p.now().In(p.config.Location)))

	registry := p.ledger.Registry()
	if err := registry.Check(d.Kind, d.Category); err != nil {
		return categoryErrorText(d.Kind, registry.List(d.Kind)), "invalid_category"
	}

	t, err := p.ledger.Create(ctx, d)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCategory) {
			return categoryErrorText(d.Kind, registry.List(d.Kind)), "invalid_category"
		}
		if core.IsValidation(err) {
			return amountErrorText, "invalid_amount"
		}
		slog.ErrorContext(ctx, "Failed to record chat transaction",
			"update_id", u.ID,
			"chat_id", u.ChatID,
			"error", err)
		return saveFailedText, "failed"
	}

	slog.InfoContext(ctx, "Recorded transaction from chat",
		"update_id", u.ID,
		"chat_id", u.ChatID,
		"id", t.ID,
		"kind", t.Kind,
		"amount_cents", t.Amount.Cents)

	var balance *core.Money
	if totals, err := p.ledger.Totals(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to compute balance for confirmation", "error", err)
	} else {
		balance = &totals.Balance
	}
	return confirmationText(t, balance), "recorded"
}

// reply sends text, retrying a bounded number of times. Failures are logged only.
func (p *Poller) reply(ctx context.Context, m Messenger, chatID int64, text string) {
	attempts := max(p.config.ReplyAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
		err = m.Send(sendCtx, chatID, text)
		cancel()
		if err == nil {
			return
		}
		if attempt < attempts && p.config.ReplyRetryDelay > 0 {
			time.Sleep(p.config.ReplyRetryDelay)
		}
	}

	p.metrics.replyFailed()
	slog.WarnContext(ctx, "Failed to send bot reply",
		"chat_id", chatID,
		"attempts", attempts,
		"error", err)
}
