// Package ledger computes the chronological, running-balance statement for a
// lease. It is pure: charges are derived from the lease term, payments are
// taken as given, and nothing here touches the store. Recomputing per request
// keeps the statement impossible to drift from the data it is derived from.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reyhq/rentledger/internal/db"
)

// Entry types.
const (
	EntryCharge  = "charge"
	EntryPayment = "payment"
)

// Entry is one dated line of a statement with the balance after it applied.
type Entry struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	Status      string          `json:"status,omitempty"`
}

// Statement is the full computed ledger for a lease.
type Statement struct {
	Entries        []Entry         `json:"entries"`
	TotalCharged   decimal.Decimal `json:"total_charged"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
}

// Compute builds the statement for a lease: one rent charge per calendar
// month from the lease's start month through the month of min(now, end date),
// merged with completed payments, sorted date ascending with charges before
// payments on same-day ties, and a running balance walked across the result.
func Compute(lease *db.Lease, payments []*db.Payment, now time.Time) Statement {
	stmt := Statement{
		TotalCharged:   decimal.Zero,
		TotalPaid:      decimal.Zero,
		CurrentBalance: decimal.Zero,
	}
	if lease == nil {
		return stmt
	}

	entries := chargeEntries(lease, now)

	for _, p := range payments {
		if p.Status != db.PaymentCompleted {
			continue
		}
		date := p.CreatedAt
		if p.PaidDate != nil {
			date = *p.PaidDate
		}
		desc := "Payment received"
		if p.Method != "" {
			desc = fmt.Sprintf("Payment received (%s)", p.Method)
		}
		entries = append(entries, Entry{
			ID:          p.ID.String(),
			Date:        date,
			Type:        EntryPayment,
			Description: desc,
			Amount:      p.Amount,
			Status:      p.Status,
		})
	}

	// Ordering is part of the contract: the displayed running balance depends
	// on it. A same-day payment settles that day's charge, so the charge
	// sorts first.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date.Equal(entries[j].Date) {
			return entryRank(entries[i].Type) < entryRank(entries[j].Type)
		}
		return entries[i].Date.Before(entries[j].Date)
	})

	balance := decimal.Zero
	for i := range entries {
		switch entries[i].Type {
		case EntryCharge:
			balance = balance.Add(entries[i].Amount)
			stmt.TotalCharged = stmt.TotalCharged.Add(entries[i].Amount)
		case EntryPayment:
			balance = balance.Sub(entries[i].Amount)
			stmt.TotalPaid = stmt.TotalPaid.Add(entries[i].Amount)
		}
		entries[i].Balance = balance
	}

	stmt.Entries = entries
	stmt.CurrentBalance = balance
	return stmt
}

// chargeEntries generates one charge per calendar month of the lease term,
// each dated the 1st. The final month is charged in full even when the lease
// ends mid-month.
func chargeEntries(lease *db.Lease, now time.Time) []Entry {
	start := monthStart(lease.StartDate)

	boundary := now
	if lease.EndDate.Before(now) {
		boundary = lease.EndDate
	}
	last := monthStart(boundary)

	var entries []Entry
	for m := start; !m.After(last); m = m.AddDate(0, 1, 0) {
		entries = append(entries, Entry{
			ID:          fmt.Sprintf("charge-%04d-%02d", m.Year(), int(m.Month())),
			Date:        m,
			Type:        EntryCharge,
			Description: fmt.Sprintf("Rent for %s", m.Format("January 2006")),
			Amount:      lease.MonthlyRent,
		})
	}
	return entries
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func entryRank(entryType string) int {
	if entryType == EntryCharge {
		return 0
	}
	return 1
}
