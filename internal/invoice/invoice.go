package invoice

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state of an invoice
type Status string

const (
	StatusDraft   Status = "draft"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// LineItem is a single billed product row
type LineItem struct {
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	MRP         decimal.Decimal `json:"mrp"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// LineAmount returns the stored amount, or quantity * unit price when none was stored
func (li LineItem) LineAmount() decimal.Decimal {
	if !li.Amount.IsZero() {
		return li.Amount
	}
	return li.Quantity.Mul(li.UnitPrice)
}

// Invoice is the read-only sales invoice handed to the printing pipeline
type Invoice struct {
	Number          string     `json:"invoice_number"`
	InvoiceDate     Date       `json:"invoice_date"`
	DueDate         Date       `json:"due_date"`
	CustomerName    string     `json:"customer_name"`
	CustomerAddress string     `json:"customer_address"`
	CustomerPhone   string     `json:"customer_phone"`
	Items           []LineItem `json:"items"`

	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	OtherCharges decimal.Decimal `json:"other_charges"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`

	Status Status `json:"status"`
	Notes  string `json:"notes"`
}

// Totals holds the aggregates derived from an invoice
type Totals struct {
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	OtherCharges decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
}

// Recompute derives the invoice totals. Tax is already included in line
// amounts, so it is carried for display only and never added to Total.
// The stored Total is ignored.
func (inv *Invoice) Recompute() Totals {
	subtotal := inv.Subtotal
	if subtotal.IsZero() {
		for _, item := range inv.Items {
			subtotal = subtotal.Add(item.LineAmount())
		}
	}

	return Totals{
		Subtotal:     subtotal,
		Discount:     inv.Discount,
		OtherCharges: inv.OtherCharges,
		Tax:          inv.Tax,
		Total:        subtotal.Sub(inv.Discount).Add(inv.OtherCharges),
	}
}

// Party holds recipient fields that override the invoice's embedded customer
type Party struct {
	Name    string
	Phone   string
	Address string
}

// Recipient merges the override party with the invoice customer fields
func (inv *Invoice) Recipient(override Party) Party {
	p := Party{
		Name:    inv.CustomerName,
		Phone:   inv.CustomerPhone,
		Address: inv.CustomerAddress,
	}
	if s := strings.TrimSpace(override.Name); s != "" {
		p.Name = s
	}
	if s := strings.TrimSpace(override.Phone); s != "" {
		p.Phone = s
	}
	if s := strings.TrimSpace(override.Address); s != "" {
		p.Address = s
	}
	return p
}

// Merchant is the shop display block printed in the receipt header and footer
type Merchant struct {
	Name          string
	Address       string
	Mobile        string
	Tagline       string
	SignatureName string
}

// Date is a calendar date encoded as YYYY-MM-DD
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date in UTC
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		// accept full timestamps too
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	d.Time = t
	return nil
}

// Display formats the date the way it is printed on receipts
func (d Date) Display() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("02/01/2006")
}
