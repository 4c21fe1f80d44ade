package receipt

import (
	"strings"

	"github.com/shopspring/decimal"

	"receipt-print/internal/invoice"
)

// DefaultWidth matches 58mm thermal paper with the printer's built-in font
const DefaultWidth = 32

// Receipt is the composed plain-text layout of an invoice
type Receipt struct {
	Lines []string
	// Enlarged lists indices into Lines that should print at a larger size
	Enlarged []int
}

// Composer lays out invoices as fixed-width receipt text
type Composer struct {
	Width    int
	Merchant invoice.Merchant
}

// NewComposer creates a composer for the given column width
func NewComposer(width int, merchant invoice.Merchant) *Composer {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Composer{Width: width, Merchant: merchant}
}

type builder struct {
	width    int
	lines    []string
	enlarged []int
}

func (b *builder) add(lines ...string) {
	b.lines = append(b.lines, lines...)
}

func (b *builder) addEnlarged(lines ...string) {
	for _, l := range lines {
		b.enlarged = append(b.enlarged, len(b.lines))
		b.lines = append(b.lines, l)
	}
}

func (b *builder) wrapped(text string) {
	b.add(Wrap(text, b.width)...)
}

func (b *builder) field(label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.wrapped(label + ": " + value)
}

func (b *builder) rule(ch string) {
	b.add(Rule(ch, b.width))
}

// Compose builds the receipt for inv. Override fields in party replace the
// invoice's customer details when non-empty.
func (c *Composer) Compose(inv *invoice.Invoice, party invoice.Party) Receipt {
	b := &builder{width: c.Width}

	c.header(b)
	if inv == nil {
		c.footer(b)
		return Receipt{Lines: b.lines, Enlarged: b.enlarged}
	}

	b.rule("-")
	c.details(b, inv, party)
	c.items(b, inv)
	c.totals(b, inv)

	if notes := strings.TrimSpace(inv.Notes); notes != "" {
		b.wrapped("Note: " + notes)
	}
	c.footer(b)

	return Receipt{Lines: b.lines, Enlarged: b.enlarged}
}

func (c *Composer) header(b *builder) {
	m := c.Merchant
	if m.Name != "" {
		b.addEnlarged(Center(m.Name, b.width)...)
	}
	if m.Address != "" {
		b.add(Center(m.Address, b.width)...)
	}
	if m.Mobile != "" {
		b.add(Center("Mob: "+m.Mobile, b.width)...)
	}
	if m.Tagline != "" {
		b.add(Center(m.Tagline, b.width)...)
	}
}

func (c *Composer) details(b *builder, inv *invoice.Invoice, party invoice.Party) {
	number := ""
	if inv.Number != "" {
		number = "Bill: " + inv.Number
	}
	date := inv.InvoiceDate.Display()
	switch {
	case number != "" && date != "":
		b.add(Justify(number, date, b.width)...)
	case number != "":
		b.wrapped(number)
	case date != "":
		b.wrapped("Date: " + date)
	}
	if d := inv.DueDate.Display(); d != "" && inv.Status != invoice.StatusPaid {
		b.wrapped("Due: " + d)
	}
	if inv.Status == invoice.StatusPaid || inv.Status == invoice.StatusOverdue {
		b.wrapped("Status: " + strings.ToUpper(string(inv.Status)))
	}

	p := inv.Recipient(party)
	b.field("Name", p.Name)
	b.field("Ph", p.Phone)
	b.field("Addr", p.Address)
	b.rule("-")
}

func (c *Composer) items(b *builder, inv *invoice.Invoice) {
	if len(inv.Items) == 0 {
		return
	}

	b.add(Justify("Item", "Amount", b.width)...)
	b.rule("-")
	for _, item := range inv.Items {
		if name := strings.TrimSpace(item.ProductName); name != "" {
			b.wrapped(name)
		}

		label := " " + quantity(item.Quantity) + " x " + Money(item.UnitPrice)
		if item.MRP.IsPositive() && !item.MRP.Equal(item.UnitPrice) {
			label += " MRP " + Money(item.MRP)
		}
		if !item.TaxRate.IsZero() {
			label += " GST " + item.TaxRate.String() + "%"
		}
		b.add(Justify(label, Money(item.LineAmount()), b.width)...)
	}
	b.rule("-")
}

func (c *Composer) totals(b *builder, inv *invoice.Invoice) {
	t := inv.Recompute()

	b.add(Justify("Subtotal", Money(t.Subtotal), b.width)...)
	if !t.Discount.IsZero() {
		b.add(Justify("Discount", "-"+Money(t.Discount), b.width)...)
	}
	if !t.OtherCharges.IsZero() {
		b.add(Justify("Other Charges", Money(t.OtherCharges), b.width)...)
	}
	if !t.Tax.IsZero() {
		b.add(Justify("Tax (incl.)", Money(t.Tax), b.width)...)
	}
	b.rule("=")
	b.addEnlarged(Justify("TOTAL", Money(t.Total), b.width)...)
	b.rule("=")
	b.wrapped(AmountInWords(t.Total.Floor().IntPart()))
}

func (c *Composer) footer(b *builder) {
	b.rule("-")
	b.add(Center("Thank You! Visit Again", b.width)...)
	if s := c.Merchant.SignatureName; s != "" {
		b.add(Center("For "+s, b.width)...)
	}
}

// Money renders a rupee amount floored to whole units with Indian digit
// grouping, e.g. 123456.75 -> "₹1,23,456"
func Money(d decimal.Decimal) string {
	whole := d.Floor()
	sign := ""
	if whole.IsNegative() {
		sign = "-"
		whole = whole.Neg()
	}
	return sign + "₹" + groupIndian(whole.String())
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	if head != "" {
		groups = append([]string{head}, groups...)
	}
	return strings.Join(groups, ",") + "," + tail
}

func quantity(q decimal.Decimal) string {
	return q.String()
}
