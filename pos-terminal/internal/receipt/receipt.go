// Package receipt turns committed sales into printable receipts and hands
// them to one or more sinks.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/shopspring/decimal"
)

const width = 40

type Sink interface {
	Emit(ctx context.Context, sale domain.CommittedSale) error
}

type multi []Sink

// Multi emits to every sink, even after one fails, and joins the errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Emit(ctx context.Context, sale domain.CommittedSale) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, sale); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Printer writes rendered receipts to w, one after another.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	header string
}

func NewPrinter(w io.Writer, header string) *Printer {
	return &Printer{w: w, header: header}
}

func (p *Printer) Emit(_ context.Context, sale domain.CommittedSale) error {
	text := Render(sale, p.header)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, text+"\n"); err != nil {
		return fmt.Errorf("print receipt: %w", err)
	}
	return nil
}

// Render lays out a fixed-width text receipt.
func Render(sale domain.CommittedSale, header string) string {
	tx := sale.Transaction
	var b strings.Builder
	rule := strings.Repeat("-", width)

	if header != "" {
		b.WriteString(center(header) + "\n")
	}
	fmt.Fprintf(&b, "Sale %s\n", sale.SaleNumber)
	fmt.Fprintf(&b, "%s\n", sale.SaleDate.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Store %d  Cashier %d\n", tx.Session.StoreID, tx.Session.UserID)
	b.WriteString(rule + "\n")

	for _, l := range tx.Lines {
		b.WriteString(truncate(l.Name, width) + "\n")
		b.WriteString(row(fmt.Sprintf("  %d x %s", l.Quantity, money(l.Price)), money(l.LineTotal())))
	}
	b.WriteString(rule + "\n")

	b.WriteString(row("Subtotal", money(tx.Totals.Subtotal)))
	if tx.Totals.DiscountAmount > 0 {
		label := "Discount"
		if tx.Discount.Kind == domain.DiscountPercent {
			label = fmt.Sprintf("Discount (%s%%)", decimal.NewFromFloat(tx.Discount.Value).String())
		}
		b.WriteString(row(label, "-"+money(tx.Totals.DiscountAmount)))
	}
	b.WriteString(row(fmt.Sprintf("Tax (%s%%)", decimal.NewFromFloat(tx.TaxRate*100).Round(2).String()), money(tx.Totals.Tax)))
	b.WriteString(row("TOTAL", money(tx.Totals.Total)))

	switch tx.PaymentMethod {
	case domain.PaymentCash:
		b.WriteString(row("Cash tendered", money(tx.Tendered)))
		b.WriteString(row("Change", money(tx.Change)))
	default:
		b.WriteString(row("Paid by "+string(tx.PaymentMethod), money(tx.Totals.Total)))
	}

	if !tx.Customer.IsEmpty() {
		b.WriteString(rule + "\n")
		if tx.Customer.Name != "" {
			b.WriteString("Customer: " + tx.Customer.Name + "\n")
		}
		if tx.Customer.TaxID != "" {
			b.WriteString("Tax ID: " + tx.Customer.TaxID + "\n")
		}
	}
	b.WriteString(rule + "\n")
	b.WriteString(center("Transaction "+tx.ID) + "\n")
	return b.String()
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func row(label, amount string) string {
	pad := width - len(label) - len(amount)
	if pad < 1 {
		label = truncate(label, width-len(amount)-1)
		pad = 1
	}
	return label + strings.Repeat(" ", pad) + amount + "\n"
}

func center(s string) string {
	s = truncate(s, width)
	return strings.Repeat(" ", (width-len(s))/2) + s
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
