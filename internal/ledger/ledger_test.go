package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reyhq/rentledger/internal/db"
)

func testLease(start, end time.Time, rent int64) *db.Lease {
	return &db.Lease{
		ID:          uuid.New(),
		UnitID:      uuid.New(),
		TenantID:    uuid.New(),
		MonthlyRent: decimal.NewFromInt(rent),
		StartDate:   start,
		EndDate:     end,
		Active:      true,
	}
}

func completedPayment(lease *db.Lease, amount int64, paidAt time.Time) *db.Payment {
	return &db.Payment{
		ID:        uuid.New(),
		LeaseID:   lease.ID,
		Amount:    decimal.NewFromInt(amount),
		Status:    db.PaymentCompleted,
		Method:    "bank_transfer",
		PaidDate:  &paidAt,
		CreatedAt: paidAt,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeNilLease(t *testing.T) {
	stmt := Compute(nil, nil, time.Now())

	if len(stmt.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(stmt.Entries))
	}
	if !stmt.CurrentBalance.IsZero() {
		t.Errorf("expected zero balance, got %s", stmt.CurrentBalance)
	}
}

func TestComputeMonthlyCharges(t *testing.T) {
	// Lease starts mid-January; three charges through a March "now".
	lease := testLease(date(2024, time.January, 15), date(2024, time.December, 31), 50000)

	stmt := Compute(lease, nil, date(2024, time.March, 10))

	if len(stmt.Entries) != 3 {
		t.Fatalf("expected 3 charges, got %d", len(stmt.Entries))
	}

	wantDates := []time.Time{
		date(2024, time.January, 1),
		date(2024, time.February, 1),
		date(2024, time.March, 1),
	}
	for i, want := range wantDates {
		if !stmt.Entries[i].Date.Equal(want) {
			t.Errorf("entry %d: expected date %s, got %s", i, want, stmt.Entries[i].Date)
		}
		if stmt.Entries[i].Type != EntryCharge {
			t.Errorf("entry %d: expected charge, got %s", i, stmt.Entries[i].Type)
		}
	}

	if !stmt.TotalCharged.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("expected total charged 150000, got %s", stmt.TotalCharged)
	}
	if !stmt.CurrentBalance.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("expected balance 150000, got %s", stmt.CurrentBalance)
	}
}

func TestComputePaymentBetweenCharges(t *testing.T) {
	lease := testLease(date(2024, time.January, 15), date(2024, time.December, 31), 50000)
	payment := completedPayment(lease, 50000, date(2024, time.February, 1))

	stmt := Compute(lease, []*db.Payment{payment}, date(2024, time.March, 10))

	if len(stmt.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(stmt.Entries))
	}
	if !stmt.CurrentBalance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected balance 100000, got %s", stmt.CurrentBalance)
	}

	// Payment dated Feb 1 ties with the Feb charge; charge applies first, so
	// the payment sits at index 2, between the Feb and Mar charges.
	if stmt.Entries[1].Type != EntryCharge {
		t.Errorf("expected charge at index 1, got %s", stmt.Entries[1].Type)
	}
	if stmt.Entries[2].Type != EntryPayment {
		t.Errorf("expected payment at index 2, got %s", stmt.Entries[2].Type)
	}
	if stmt.Entries[3].Type != EntryCharge {
		t.Errorf("expected charge at index 3, got %s", stmt.Entries[3].Type)
	}
}

func TestComputeSameDayChargeBeforePayment(t *testing.T) {
	lease := testLease(date(2024, time.March, 1), date(2024, time.December, 31), 30000)
	payment := completedPayment(lease, 30000, date(2024, time.March, 1))

	stmt := Compute(lease, []*db.Payment{payment}, date(2024, time.March, 5))

	if len(stmt.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stmt.Entries))
	}
	if stmt.Entries[0].Type != EntryCharge {
		t.Fatalf("expected charge first, got %s", stmt.Entries[0].Type)
	}
	if !stmt.Entries[0].Balance.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("expected charge balance 30000, got %s", stmt.Entries[0].Balance)
	}
	// Payment balance reflects the charge having been applied first.
	if !stmt.Entries[1].Balance.IsZero() {
		t.Errorf("expected payment balance 0, got %s", stmt.Entries[1].Balance)
	}
}

func TestComputeExcludesNonCompletedPayments(t *testing.T) {
	lease := testLease(date(2024, time.January, 1), date(2024, time.December, 31), 40000)

	pending := completedPayment(lease, 40000, date(2024, time.January, 2))
	pending.Status = db.PaymentPending
	failed := completedPayment(lease, 40000, date(2024, time.January, 3))
	failed.Status = db.PaymentFailed
	cancelled := completedPayment(lease, 40000, date(2024, time.January, 4))
	cancelled.Status = db.PaymentCancelled

	stmt := Compute(lease, []*db.Payment{pending, failed, cancelled}, date(2024, time.January, 20))

	for _, e := range stmt.Entries {
		if e.Type == EntryPayment {
			t.Errorf("non-completed payment leaked into statement: %+v", e)
		}
	}
	if !stmt.TotalPaid.IsZero() {
		t.Errorf("expected total paid 0, got %s", stmt.TotalPaid)
	}
}

func TestComputeBalanceIdentity(t *testing.T) {
	lease := testLease(date(2023, time.June, 10), date(2024, time.June, 10), 12345)
	payments := []*db.Payment{
		completedPayment(lease, 12345, date(2023, time.July, 3)),
		completedPayment(lease, 20000, date(2023, time.September, 14)),
		completedPayment(lease, 999, date(2024, time.January, 31)),
	}

	stmt := Compute(lease, payments, date(2024, time.March, 1))

	want := stmt.TotalCharged.Sub(stmt.TotalPaid)
	if !stmt.CurrentBalance.Equal(want) {
		t.Errorf("balance identity broken: balance=%s charged-paid=%s", stmt.CurrentBalance, want)
	}
	last := stmt.Entries[len(stmt.Entries)-1]
	if !last.Balance.Equal(stmt.CurrentBalance) {
		t.Errorf("last entry balance %s != current balance %s", last.Balance, stmt.CurrentBalance)
	}
}

func TestComputePaymentFallsBackToCreatedAt(t *testing.T) {
	lease := testLease(date(2024, time.January, 1), date(2024, time.December, 31), 10000)
	p := completedPayment(lease, 10000, date(2024, time.February, 5))
	p.PaidDate = nil
	p.CreatedAt = date(2024, time.January, 20)

	stmt := Compute(lease, []*db.Payment{p}, date(2024, time.February, 10))

	var found bool
	for _, e := range stmt.Entries {
		if e.Type == EntryPayment {
			found = true
			if !e.Date.Equal(date(2024, time.January, 20)) {
				t.Errorf("expected payment dated by created_at, got %s", e.Date)
			}
		}
	}
	if !found {
		t.Fatal("payment entry missing")
	}
}

func TestComputeLeaseEndedBeforeNow(t *testing.T) {
	// Charges stop at the lease end month, not at now. The final month is
	// charged in full.
	lease := testLease(date(2024, time.January, 1), date(2024, time.February, 15), 50000)

	stmt := Compute(lease, nil, date(2024, time.June, 1))

	if len(stmt.Entries) != 2 {
		t.Fatalf("expected 2 charges (Jan, Feb), got %d", len(stmt.Entries))
	}
	if !stmt.TotalCharged.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected 100000 charged, got %s", stmt.TotalCharged)
	}
}

func TestComputeZeroLengthLease(t *testing.T) {
	day := date(2024, time.April, 10)
	lease := testLease(day, day, 25000)

	stmt := Compute(lease, nil, date(2024, time.April, 30))

	if len(stmt.Entries) != 1 {
		t.Fatalf("expected 1 charge for a zero-length lease, got %d", len(stmt.Entries))
	}
}

func TestComputeFutureLease(t *testing.T) {
	lease := testLease(date(2025, time.January, 1), date(2025, time.December, 31), 25000)

	stmt := Compute(lease, nil, date(2024, time.June, 1))

	if len(stmt.Entries) != 0 {
		t.Errorf("expected no charges before the lease starts, got %d", len(stmt.Entries))
	}
}

func TestComputeDecimalAmounts(t *testing.T) {
	// Fractional rents must accumulate without binary-float drift.
	lease := testLease(date(2023, time.January, 1), date(2025, time.December, 31), 0)
	lease.MonthlyRent = decimal.RequireFromString("1033.33")

	stmt := Compute(lease, nil, date(2024, time.December, 15))

	// 24 months x 1033.33
	want := decimal.RequireFromString("24799.92")
	if !stmt.TotalCharged.Equal(want) {
		t.Errorf("expected %s charged, got %s", want, stmt.TotalCharged)
	}
}
