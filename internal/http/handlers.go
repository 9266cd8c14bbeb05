package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jizhang/internal/core"
	"jizhang/internal/log"
)

type moneyJSON struct {
	Cents   int64  `json:"cents"`
	Display string `json:"display"`
}

func money(m core.Money) moneyJSON {
	return moneyJSON{Cents: m.Cents, Display: m.String()}
}

type transactionJSON struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Amount     moneyJSON `json:"amount"`
	Category   string    `json:"category"`
	Note       string    `json:"note"`
	OccurredOn string    `json:"occurred_on"`
	CreatedAt  time.Time `json:"created_at"`
}

func transactionResponse(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:         t.ID,
		Kind:       string(t.Kind),
		Amount:     money(t.Amount),
		Category:   t.Category,
		Note:       t.Note,
		OccurredOn: t.OccurredOn.String(),
		CreatedAt:  t.CreatedAt,
	}
}

func transactionsResponse(ts []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(ts))
	for _, t := range ts {
		out = append(out, transactionResponse(t))
	}
	return out
}

type totalsJSON struct {
	Income  moneyJSON `json:"income"`
	Expense moneyJSON `json:"expense"`
	Balance moneyJSON `json:"balance"`
}

type shareJSON struct {
	Category   string    `json:"category"`
	Total      moneyJSON `json:"total"`
	Proportion float64   `json:"proportion"`
	Percent    float64   `json:"percent"`
}

type monthlyReportJSON struct {
	Month        string            `json:"month"`
	Income       moneyJSON         `json:"income"`
	Expense      moneyJSON         `json:"expense"`
	Balance      moneyJSON         `json:"balance"`
	Incomes      []shareJSON       `json:"incomes"`
	Expenses     []shareJSON       `json:"expenses"`
	Transactions []transactionJSON `json:"transactions"`
}

func sharesResponse(shares []core.CategoryShare) []shareJSON {
	out := make([]shareJSON, 0, len(shares))
	for _, s := range shares {
		out = append(out, shareJSON{
			Category:   s.Category,
			Total:      money(s.Total),
			Proportion: s.Proportion,
			Percent:    s.Percent(),
		})
	}
	return out
}

// fail logs err at the level its status deserves and writes the mapped response.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFor(err)
	ctx := r.Context()
	logger := log.FromContext(ctx)
	if resp.statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed", log.FieldOperation, op, log.FieldError, err)
	} else {
		logger.InfoContext(ctx, "Request rejected", log.FieldOperation, op, log.FieldError, err)
	}
	resp.Write(w)
}

func audit(r *http.Request, op string, t core.Transaction) {
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogTransaction(r.Context(), op, t.ID, string(t.Kind), t.Amount.Cents, t.Category, t.OccurredOn.String())
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	txs, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"transactions": transactionsResponse(txs)}).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}
	draft, err := req.Draft(s.today())
	if err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}

	t, err := s.ledger.Create(r.Context(), draft)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCategory) {
			s.unknownCategory(w, r, draft.Kind, err)
			return
		}
		fail(w, r, log.OpCreate, err)
		return
	}

	audit(r, log.OpCreate, t)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+strconv.FormatInt(t.ID, 10)).
		Body(transactionResponse(t)).
		Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	t, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(transactionResponse(t)).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	var req UpdateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	patch, err := req.Patch()
	if err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}

	t, err := s.ledger.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, core.ErrUnknownCategory) {
			kind := core.Expense
			if patch.Kind != nil {
				kind = *patch.Kind
			} else if current, gerr := s.ledger.Get(r.Context(), id); gerr == nil {
				kind = current.Kind
			}
			s.unknownCategory(w, r, kind, err)
			return
		}
		fail(w, r, log.OpUpdate, err)
		return
	}
	audit(r, log.OpUpdate, t)
	NewJSONResponse().Body(transactionResponse(t)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, log.OpDelete, err)
		return
	}
	if err := s.ledger.Delete(r.Context(), id); err != nil {
		fail(w, r, log.OpDelete, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction deleted", log.FieldTransactionID, id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// unknownCategory answers 400 with the categories valid for kind.
func (s *Server) unknownCategory(w http.ResponseWriter, r *http.Request, kind core.Kind, err error) {
	log.FromContext(r.Context()).InfoContext(r.Context(), "Unknown category", log.FieldKind, kind, log.FieldError, err)
	ErrorResponse(http.StatusBadRequest, ErrorDetail{
		Code:    CodeValidation,
		Message: core.ErrUnknownCategory.Error(),
		Field:   "category",
		Valid:   s.ledger.Registry().List(kind),
	}).Write(w)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.ledger.Totals(r.Context())
	if err != nil {
		fail(w, r, log.OpReport, err)
		return
	}
	NewJSONResponse().Body(totalsJSON{
		Income:  money(totals.Income),
		Expense: money(totals.Expense),
		Balance: money(totals.Balance),
	}).Write(w)
}

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	today := s.today()
	year, month := today.Year(), int(today.Month())
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		var err error
		if year, month, err = core.ParseMonth(v); err != nil {
			fail(w, r, log.OpReport, err)
			return
		}
	}

	summary, err := s.reports.MonthlySummary(r.Context(), year, month)
	if err != nil {
		fail(w, r, log.OpReport, err)
		return
	}
	NewJSONResponse().Body(monthlyReportJSON{
		Month:        summary.Key(),
		Income:       money(summary.Income),
		Expense:      money(summary.Expense),
		Balance:      money(summary.Balance),
		Incomes:      sharesResponse(summary.Incomes),
		Expenses:     sharesResponse(summary.Expenses),
		Transactions: transactionsResponse(summary.Transactions),
	}).Write(w)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.reports.Months(r.Context(), s.today().MonthKey())
	if err != nil {
		fail(w, r, log.OpReport, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"months": months}).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	reg := s.ledger.Registry()
	NewJSONResponse().Body(map[string][]string{
		string(core.Income):  reg.List(core.Income),
		string(core.Expense): reg.List(core.Expense),
	}).Write(w)
}

type botSettingsJSON struct {
	Enabled             bool    `json:"enabled"`
	TokenSet            bool    `json:"token_set"`
	Token               string  `json:"token,omitempty"`
	AllowedChatIDs      []int64 `json:"allowed_chat_ids"`
	PollIntervalSeconds int     `json:"poll_interval_seconds"`
	Active              bool    `json:"active"`
	PollerState         string  `json:"poller_state,omitempty"`
	PollerRunning       bool    `json:"poller_running"`
}

func (s *Server) botSettingsResponse(settings core.BotSettings) botSettingsJSON {
	ids := settings.AllowedChatIDs
	if ids == nil {
		ids = []int64{}
	}
	out := botSettingsJSON{
		Enabled:             settings.Enabled,
		TokenSet:            strings.TrimSpace(settings.Token) != "",
		Token:               maskToken(settings.Token),
		AllowedChatIDs:      ids,
		PollIntervalSeconds: int(settings.Interval() / time.Second),
		Active:              settings.Active(),
	}
	if s.bot != nil {
		out.PollerState = s.bot.State().String()
		out.PollerRunning = s.bot.IsRunning()
	}
	return out
}

func (s *Server) handleGetBotSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.BotSettings(r.Context())
	if err != nil {
		if !core.IsValidation(err) {
			fail(w, r, log.OpSettings, err)
			return
		}
		// Shown disabled so the allow-list can be repaired with a PUT.
		log.FromContext(r.Context()).WarnContext(r.Context(), "Stored bot settings are malformed", log.FieldError, err)
	}
	NewJSONResponse().Body(s.botSettingsResponse(settings)).Write(w)
}

func (s *Server) handlePutBotSettings(w http.ResponseWriter, r *http.Request) {
	var req BotSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpSettings, err)
		return
	}

	current, err := s.settings.BotSettings(r.Context())
	if err != nil && !core.IsValidation(err) {
		// A broken stored allow-list is replaced by this request.
		fail(w, r, log.OpSettings, err)
		return
	}

	next := core.BotSettings{
		Enabled:        req.Enabled,
		Token:          current.Token,
		AllowedChatIDs: req.AllowedChatIDs,
		PollInterval:   time.Duration(req.PollIntervalSeconds) * time.Second,
	}
	if req.Token != nil {
		next.Token = strings.TrimSpace(*req.Token)
	}
	if next.Enabled && strings.TrimSpace(next.Token) == "" {
		fail(w, r, log.OpSettings, &core.ValidationError{Field: "token", Err: errors.New("a token is required to enable the bot")})
		return
	}

	if err := s.settings.SaveBotSettings(r.Context(), next); err != nil {
		fail(w, r, log.OpSettings, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Bot settings updated",
		"enabled", next.Enabled,
		"allowed_chats", len(next.AllowedChatIDs),
		"poll_interval", next.Interval())

	NewJSONResponse().Body(s.botSettingsResponse(next)).Write(w)
}

// maskToken keeps only the bot id part of a token.
func maskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if i := strings.IndexByte(token, ':'); i > 0 {
		return token[:i] + ":***"
	}
	return "***"
}
