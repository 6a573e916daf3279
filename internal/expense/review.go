package expense

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-capture/internal/scanning"
)

// IDGenerator generates unique IDs for saved expenses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ExpenseForm is the editable form the user reviews before saving. Fields are
// kept as entered; price may arrive as a JSON number or string.
type ExpenseForm struct {
	Description string               `json:"description"`
	Price       scanning.NumericText `json:"price"`
	Date        string               `json:"date"`
	Category    string               `json:"category"`
}

// Expense is a reviewed and accepted expense
type Expense struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Price       decimal.Decimal   `json:"price"`
	Date        time.Time         `json:"date"`
	Category    scanning.Category `json:"category"`
	CreatedAt   time.Time         `json:"created_at"`
}

type expenseJSON struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Price       decimal.Decimal   `json:"price"`
	Date        string            `json:"date"`
	Category    scanning.Category `json:"category"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MarshalJSON writes the date as a calendar date
func (e Expense) MarshalJSON() ([]byte, error) {
	return json.Marshal(expenseJSON{
		ID:          e.ID,
		Description: e.Description,
		Price:       e.Price,
		Date:        e.Date.Format(scanning.DateLayout),
		Category:    e.Category,
		CreatedAt:   e.CreatedAt,
	})
}

func (e *Expense) UnmarshalJSON(data []byte) error {
	var w expenseJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	date, err := time.Parse(scanning.DateLayout, w.Date)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	*e = Expense{
		ID:          w.ID,
		Description: w.Description,
		Price:       w.Price,
		Date:        date,
		Category:    w.Category,
		CreatedAt:   w.CreatedAt,
	}
	return nil
}

// ValidationError reports the first form field that failed validation
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Reviewer validates reviewed forms and records the resulting expenses
type Reviewer struct {
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewReviewer creates a Reviewer with uuid IDs and the wall clock
func NewReviewer() *Reviewer {
	return &Reviewer{
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewReviewerWithDeps creates a Reviewer with custom dependencies for testing
func NewReviewerWithDeps(idGen IDGenerator, timeSrc TimeSource) *Reviewer {
	return &Reviewer{
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Save validates the form and records the expense. Expenses are logged and
// not stored.
func (r *Reviewer) Save(form ExpenseForm) (*Expense, error) {
	description := strings.TrimSpace(form.Description)
	if description == "" {
		return nil, &ValidationError{Field: "description", Message: "Please enter a description."}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(form.Price.String()))
	if err != nil || price.IsNegative() {
		return nil, &ValidationError{Field: "price", Message: "Please enter a valid price."}
	}

	now := r.timeSource.Now()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d := strings.TrimSpace(form.Date); d != "" {
		date, err = time.Parse(scanning.DateLayout, d)
		if err != nil {
			return nil, &ValidationError{Field: "date", Message: "Please enter a valid date."}
		}
	}

	category := scanning.CategoryOther
	if c := strings.TrimSpace(form.Category); c != "" {
		category, err = scanning.ParseCategory(c)
		if err != nil {
			return nil, &ValidationError{Field: "category", Message: "Please choose a valid category."}
		}
	}

	expense := &Expense{
		ID:          r.idGenerator.Generate(),
		Description: description,
		Price:       price,
		Date:        date,
		Category:    category,
		CreatedAt:   now,
	}

	slog.Info("Saved new expense",
		"id", expense.ID,
		"description", expense.Description,
		"price", expense.Price.StringFixed(2),
		"date", expense.Date.Format(scanning.DateLayout),
		"category", expense.Category,
	)
	return expense, nil
}

// FormFromState pre-populates the review form from a succeeded state. Any
// other state yields an empty form.
func FormFromState(st State) ExpenseForm {
	if st.Status != StatusSucceeded || st.Expense == nil {
		return ExpenseForm{}
	}
	e := st.Expense
	return ExpenseForm{
		Description: e.Description,
		Price:       scanning.NumericText(e.Amount.String()),
		Date:        e.Date.Format(scanning.DateLayout),
		Category:    e.Category.String(),
	}
}

// Categories lists the categories the review form offers
func Categories() []scanning.Category {
	return scanning.Categories()
}
