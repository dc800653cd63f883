package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"kudos-api/internal/models"
)

const (
	maxMessageLength = 500
	maxTags          = 10
	maxAccountIDLen  = 64
)

var (
	accountIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:@-]+$`)
	tagRegex       = regexp.MustCompile(`^#[\p{L}\p{N}_-]{1,32}$`)
	maxAmount      = decimal.NewFromInt(1_000_000)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Unwrap lets callers match any validation failure with errors.Is.
func (e *ValidationError) Unwrap() error {
	return models.ErrValidation
}

func ValidateTransfer(req models.TransferRequest) error {
	if err := ValidateAccountID(req.GiverID, "giver_id"); err != nil {
		return err
	}

	if err := ValidateAccountID(req.ReceiverID, "receiver_id"); err != nil {
		return err
	}

	if req.GiverID == req.ReceiverID {
		return &ValidationError{
			Field:   "receiver_id",
			Message: "cannot transfer points to yourself",
		}
	}

	if err := ValidateAmount(req.Amount, "amount"); err != nil {
		return err
	}

	if len(req.Message) > maxMessageLength {
		return &ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("cannot exceed %d characters", maxMessageLength),
		}
	}

	if len(req.Tags) > maxTags {
		return &ValidationError{
			Field:   "tags",
			Message: fmt.Sprintf("cannot contain more than %d tags", maxTags),
		}
	}

	for i, tag := range req.Tags {
		if !tagRegex.MatchString(tag) {
			return &ValidationError{
				Field:   fmt.Sprintf("tags[%d]", i),
				Message: "must look like #word",
			}
		}
	}

	return nil
}

func ValidateRecurring(req models.ScheduleRecurringRequest) error {
	if err := ValidateTransfer(models.TransferRequest{
		GiverID:    req.GiverID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
	}); err != nil {
		return err
	}

	return ValidateInterval(req.Interval)
}

func ValidateInterval(interval models.Interval) error {
	if interval == "" {
		return &ValidationError{
			Field:   "interval",
			Message: "is required",
		}
	}

	if !interval.Valid() {
		return &ValidationError{
			Field:   "interval",
			Message: "must be one of daily, weekly, monthly",
		}
	}

	return nil
}

// ValidateAmount rejects zero, negative and absurdly large amounts.
func ValidateAmount(amount decimal.Decimal, fieldName string) error {
	if !amount.IsPositive() {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be positive",
		}
	}

	if amount.GreaterThan(maxAmount) {
		return &ValidationError{
			Field:   fieldName,
			Message: "exceeds maximum allowed amount",
		}
	}

	if !amount.Equal(amount.Round(2)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "cannot have more than 2 decimal places",
		}
	}

	return nil
}

// ValidateSignedAmount is ValidateAmount for admin credit/debit deltas.
func ValidateSignedAmount(amount decimal.Decimal, fieldName string) error {
	if amount.IsZero() {
		return &ValidationError{
			Field:   fieldName,
			Message: "must not be zero",
		}
	}
	return ValidateAmount(amount.Abs(), fieldName)
}

func ValidateReward(reward models.Reward) error {
	if SanitizeString(reward.Name) == "" {
		return &ValidationError{
			Field:   "name",
			Message: "is required",
		}
	}

	return ValidateAmount(reward.PointsRequired, "points_required")
}

func ValidateAccountID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if len(id) > maxAccountIDLen || !accountIDRegex.MatchString(id) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid account id",
		}
	}

	return nil
}

func ValidateRequired(value, fieldName string) error {
	if SanitizeString(value) == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// NormalizeTags prefixes tags with '#', lowercases them and drops duplicates
// and blanks, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(SanitizeString(tag))
		tag = strings.TrimLeft(tag, "#")
		if tag == "" {
			continue
		}
		tag = "#" + tag
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// SplitMessage separates "#tag" words from the free text of a chat-style
// message, e.g. "great demo #teamwork #ship" -> ("great demo", [#teamwork #ship]).
func SplitMessage(text string) (string, []string) {
	var words, tags []string
	for _, w := range strings.Fields(SanitizeString(text)) {
		if strings.HasPrefix(w, "#") && len(w) > 1 {
			tags = append(tags, w)
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), NormalizeTags(tags)
}
