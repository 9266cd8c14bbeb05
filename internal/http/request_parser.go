// This file implements request decoding and validation for the JSON API.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"jizhang/internal/core"
)

const maxBodyBytes = 64 << 10

// badRequest is a malformed request that never reached validation.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names in errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateTransactionRequest is the body of POST /api/transactions.
type CreateTransactionRequest struct {
	Kind       string      `json:"kind" validate:"required,oneof=income expense"`
	Amount     json.Number `json:"amount" validate:"required"`
	Category   string      `json:"category" validate:"required,max=64"`
	Note       string      `json:"note" validate:"max=500"`
	OccurredOn string      `json:"occurred_on" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateTransactionRequest is the body of PUT /api/transactions/{id}. Absent fields are kept.
type UpdateTransactionRequest struct {
	Kind       *string      `json:"kind" validate:"omitempty,oneof=income expense"`
	Amount     *json.Number `json:"amount"`
	Category   *string      `json:"category" validate:"omitempty,max=64"`
	Note       *string      `json:"note" validate:"omitempty,max=500"`
	OccurredOn *string      `json:"occurred_on" validate:"omitempty,datetime=2006-01-02"`
}

// BotSettingsRequest is the body of PUT /api/settings/bot. A nil token keeps the stored one.
type BotSettingsRequest struct {
	Enabled             bool    `json:"enabled"`
	Token               *string `json:"token" validate:"omitempty,max=256"`
	AllowedChatIDs      []int64 `json:"allowed_chat_ids" validate:"max=100"`
	PollIntervalSeconds int     `json:"poll_interval_seconds" validate:"omitempty,gte=2,lte=3600"`
}

// decodeJSON reads one JSON object into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &badRequest{msg: fmt.Sprintf("request body larger than %d bytes", maxErr.Limit)}
		case errors.Is(err, io.EOF):
			return &badRequest{msg: "request body is empty"}
		default:
			return &badRequest{msg: "malformed JSON: " + err.Error()}
		}
	}
	if dec.More() {
		return &badRequest{msg: "request body must contain a single JSON object"}
	}
	return validate.Struct(dst)
}

// Draft converts the request into a draft dated today when occurred_on is absent.
func (req CreateTransactionRequest) Draft(today core.Date) (core.TransactionDraft, error) {
	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		return core.TransactionDraft{}, err
	}
	amount, err := core.ParseAmount(req.Amount.String())
	if err != nil {
		return core.TransactionDraft{}, &core.ValidationError{Field: "amount", Err: err}
	}
	day := today
	if req.OccurredOn != "" {
		if day, err = core.ParseDate(req.OccurredOn); err != nil {
			return core.TransactionDraft{}, err
		}
	}
	return core.TransactionDraft{
		Kind:       kind,
		Amount:     amount,
		Category:   sanitizeInput(req.Category),
		Note:       sanitizeInput(req.Note),
		OccurredOn: day,
	}, nil
}

// Patch converts the request into a patch.
func (req UpdateTransactionRequest) Patch() (core.TransactionPatch, error) {
	var p core.TransactionPatch
	if req.Kind != nil {
		kind, err := core.ParseKind(*req.Kind)
		if err != nil {
			return p, err
		}
		p.Kind = &kind
	}
	if req.Amount != nil {
		amount, err := core.ParseAmount(req.Amount.String())
		if err != nil {
			return p, &core.ValidationError{Field: "amount", Err: err}
		}
		p.Amount = &amount
	}
	if req.Category != nil {
		c := sanitizeInput(*req.Category)
		p.Category = &c
	}
	if req.Note != nil {
		n := sanitizeInput(*req.Note)
		p.Note = &n
	}
	if req.OccurredOn != nil {
		d, err := core.ParseDate(*req.OccurredOn)
		if err != nil {
			return p, err
		}
		p.OccurredOn = &d
	}
	return p, nil
}

// pathID parses the {id} path value.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &badRequest{msg: fmt.Sprintf("invalid transaction id %q", r.PathValue("id"))}
	}
	return id, nil
}

// queryLimit parses the optional limit query parameter.
func queryLimit(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, &badRequest{msg: fmt.Sprintf("invalid limit %q", v)}
	}
	return n, nil
}

// sanitizeInput drops control characters and trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, s))
}
