package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for the billing core.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new billing repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const leaseColumns = `id, unit_id, tenant_id, monthly_rent, start_date, end_date, active, created_at`

func scanLease(row pgx.Row) (*Lease, error) {
	var l Lease
	err := row.Scan(
		&l.ID,
		&l.UnitID,
		&l.TenantID,
		&l.MonthlyRent,
		&l.StartDate,
		&l.EndDate,
		&l.Active,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListActiveLeases returns every lease with the active flag set. This is the
// fatal-path query of the billing cycle: if it fails the whole run aborts.
func (r *Repository) ListActiveLeases(ctx context.Context) ([]*Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE active = true
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active leases: %w", err)
	}
	defer rows.Close()

	var leases []*Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		leases = append(leases, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return leases, nil
}

// GetLease retrieves a lease by ID
func (r *Repository) GetLease(ctx context.Context, id uuid.UUID) (*Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE id = $1
	`

	l, err := scanLease(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lease %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get lease",
			zap.Error(err),
			zap.String("lease_id", id.String()),
		)
		return nil, fmt.Errorf("query lease: %w", err)
	}

	return l, nil
}

// GetLeaseParties resolves the lease -> tenant, unit, property chain in one
// round trip. Any broken link surfaces as ErrNotFound; callers treat that as
// "skip the notification", never as a billing failure.
func (r *Repository) GetLeaseParties(ctx context.Context, leaseID uuid.UUID) (*LeaseParties, error) {
	query := `
		SELECT
			l.id, l.unit_id, l.tenant_id, l.monthly_rent, l.start_date, l.end_date, l.active, l.created_at,
			t.id, t.full_name, t.email, t.phone,
			u.id, u.property_id, u.label,
			p.id, p.name, p.owner_name, p.owner_email
		FROM leases l
		JOIN tenants t ON t.id = l.tenant_id
		JOIN units u ON u.id = l.unit_id
		JOIN properties p ON p.id = u.property_id
		WHERE l.id = $1
	`

	var (
		l Lease
		t Tenant
		u Unit
		p Property
	)
	err := r.db.Pool().QueryRow(ctx, query, leaseID).Scan(
		&l.ID, &l.UnitID, &l.TenantID, &l.MonthlyRent, &l.StartDate, &l.EndDate, &l.Active, &l.CreatedAt,
		&t.ID, &t.FullName, &t.Email, &t.Phone,
		&u.ID, &u.PropertyID, &u.Label,
		&p.ID, &p.Name, &p.OwnerName, &p.OwnerEmail,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lease parties %s: %w", leaseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query lease parties: %w", err)
	}

	return &LeaseParties{Lease: &l, Tenant: &t, Unit: &u, Property: &p}, nil
}
