package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format exchanged with the language model
const DateLayout = "2006-01-02"

// Category is the fixed expense category set
type Category string

const (
	CategoryFood           Category = "food"
	CategoryGroceries      Category = "groceries"
	CategoryShopping       Category = "shopping"
	CategoryEntertainment  Category = "entertainment"
	CategoryUtilities      Category = "utilities"
	CategoryTransportation Category = "transportation"
	CategoryOther          Category = "other"
)

var categories = []Category{
	CategoryFood,
	CategoryGroceries,
	CategoryShopping,
	CategoryEntertainment,
	CategoryUtilities,
	CategoryTransportation,
	CategoryOther,
}

// Categories returns every category in display order
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory matches s against the category set, ignoring case and
// surrounding whitespace. Anything else is an error.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, c := range categories {
		if string(c) == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string {
	return string(c)
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ExtractedExpense holds the fields the language model read off a receipt
type ExtractedExpense struct {
	Amount      decimal.Decimal
	Date        time.Time
	Category    Category
	Description string
}

type expenseWire struct {
	Amount      json.Number `json:"amount"`
	Date        string      `json:"date"`
	Category    Category    `json:"category"`
	Description string      `json:"description"`
}

func (e ExtractedExpense) MarshalJSON() ([]byte, error) {
	return json.Marshal(expenseWire{
		Amount:      json.Number(e.Amount.String()),
		Date:        e.Date.Format(DateLayout),
		Category:    e.Category,
		Description: e.Description,
	})
}

func (e *ExtractedExpense) UnmarshalJSON(data []byte) error {
	var w expenseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(w.Amount.String())
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	date, err := time.Parse(DateLayout, strings.TrimSpace(w.Date))
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if w.Category == "" {
		return fmt.Errorf("category: missing")
	}
	*e = ExtractedExpense{
		Amount:      amount,
		Date:        date,
		Category:    w.Category,
		Description: strings.TrimSpace(w.Description),
	}
	return nil
}
