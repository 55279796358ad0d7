package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
)

// ColdFrontStore reads and writes the ColdFront portal database.
// Table and column names follow the Django models of the portal.
type ColdFrontStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

var _ engine.SystemOfRecord = (*ColdFrontStore)(nil)

// NewColdFrontStore creates a store for the portal database at cfg.Path.
func NewColdFrontStore(cfg Config, logger zerolog.Logger) (*ColdFrontStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &ColdFrontStore{cfg: cfg, logger: logger}, nil
}

// Init opens the database connection. Failure is fatal for the run.
func (s *ColdFrontStore) Init(ctx context.Context) error {
	db, err := openSQLite(ctx, s.cfg, false)
	if err != nil {
		return engine.NewFatalError("open_database", err)
	}
	s.db = db
	return nil
}

// Close closes the database connection
func (s *ColdFrontStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *ColdFrontStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// ListUsers implements engine.SystemOfRecord.
func (s *ColdFrontStore) ListUsers(ctx context.Context) ([]engine.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, is_active
		FROM auth_user
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []engine.User{}
	for rows.Next() {
		var u engine.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// UserMemberships implements engine.SystemOfRecord.
func (s *ColdFrontStore) UserMemberships(ctx context.Context, userID int64, attribute string) ([]engine.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT us.name, a.id, st.name
		FROM allocation_allocationuser au
		JOIN allocation_allocationuserstatuschoice us ON us.id = au.status_id
		JOIN allocation_allocation a ON a.id = au.allocation_id
		JOIN allocation_allocationstatuschoice st ON st.id = a.status_id
		WHERE au.user_id = ?
		  AND EXISTS (
			SELECT 1
			FROM allocation_allocationattribute aa
			JOIN allocation_allocationattributetype t ON t.id = aa.allocation_attribute_type_id
			WHERE aa.allocation_id = a.id AND t.name = ?
		  )
		ORDER BY au.id
	`, userID, attribute)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships of user %d: %w", userID, err)
	}
	defer rows.Close()

	memberships := []engine.Membership{}
	for rows.Next() {
		var m engine.Membership
		var status, allocStatus string
		if err := rows.Scan(&status, &m.Allocation.ID, &allocStatus); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.Status = engine.MembershipStatus(status)
		m.Allocation.Status = engine.AllocationStatus(allocStatus)
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	rows.Close()

	allocs := make([]*engine.Allocation, len(memberships))
	for i := range memberships {
		allocs[i] = &memberships[i].Allocation
	}
	if err := s.loadDetails(ctx, allocs); err != nil {
		return nil, err
	}
	return memberships, nil
}

// ActiveAllocations implements engine.SystemOfRecord.
func (s *ColdFrontStore) ActiveAllocations(ctx context.Context, resourceName string) ([]engine.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT a.id, st.name
		FROM allocation_allocation a
		JOIN allocation_allocationstatuschoice st ON st.id = a.status_id
		JOIN allocation_allocation_resources ar ON ar.allocation_id = a.id
		JOIN resource_resource r ON r.id = ar.resource_id
		WHERE st.name = ? AND r.name = ?
		ORDER BY a.id
	`, string(engine.AllocationStatusActive), resourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations of %s: %w", resourceName, err)
	}
	defer rows.Close()

	allocations := []engine.Allocation{}
	for rows.Next() {
		var a engine.Allocation
		var status string
		if err := rows.Scan(&a.ID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Status = engine.AllocationStatus(status)
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}
	rows.Close()

	ptrs := make([]*engine.Allocation, len(allocations))
	for i := range allocations {
		ptrs[i] = &allocations[i]
	}
	if err := s.loadDetails(ctx, ptrs); err != nil {
		return nil, err
	}
	return allocations, nil
}

// SetUserActive implements engine.SystemOfRecord.
func (s *ColdFrontStore) SetUserActive(ctx context.Context, userID int64, active bool) error {
	return s.updateUser(ctx, userID, "is_active", active)
}

// SetUserEmail implements engine.SystemOfRecord.
func (s *ColdFrontStore) SetUserEmail(ctx context.Context, userID int64, email string) error {
	return s.updateUser(ctx, userID, "email", email)
}

// updateUser sets one column of auth_user. column is never user input.
func (s *ColdFrontStore) updateUser(ctx context.Context, userID int64, column string, value any) error {
	result, err := s.db.ExecContext(ctx, `UPDATE auth_user SET `+column+` = ? WHERE id = ?`, value, userID)
	if err != nil {
		return fmt.Errorf("failed to update %s of user %d: %w", column, userID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}

// SetAllocationUsage implements engine.SystemOfRecord. The usage row of the
// first attribute with the given type is created or updated. Allocations
// without that attribute, or whose attribute type tracks no usage, are left
// unchanged.
func (s *ColdFrontStore) SetAllocationUsage(ctx context.Context, allocationID int64, attribute string, value float64) error {
	var (
		attrID   int64
		hasUsage bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT aa.id, t.has_usage
		FROM allocation_allocationattribute aa
		JOIN allocation_allocationattributetype t ON t.id = aa.allocation_attribute_type_id
		WHERE aa.allocation_id = ? AND t.name = ?
		ORDER BY aa.id
		LIMIT 1
	`, allocationID, attribute).Scan(&attrID, &hasUsage)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug().
			Int64("allocation", allocationID).
			Str("attribute", attribute).
			Msg("allocation has no such attribute, usage not stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find %q attribute of allocation %d: %w", attribute, allocationID, err)
	}
	if !hasUsage {
		s.logger.Debug().
			Int64("allocation", allocationID).
			Str("attribute", attribute).
			Msg("attribute type tracks no usage, usage not stored")
		return nil
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO allocation_allocationattributeusage (allocation_attribute_id, created, modified, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (allocation_attribute_id) DO UPDATE SET value = excluded.value, modified = excluded.modified
	`, attrID, now, now, value)
	if err != nil {
		return fmt.Errorf("failed to store usage of allocation %d: %w", allocationID, err)
	}
	return nil
}

// loadDetails fills the resources and attributes of allocs.
func (s *ColdFrontStore) loadDetails(ctx context.Context, allocs []*engine.Allocation) error {
	if len(allocs) == 0 {
		return nil
	}

	byID := make(map[int64][]*engine.Allocation, len(allocs))
	ids := make([]any, 0, len(allocs))
	for _, a := range allocs {
		if _, seen := byID[a.ID]; !seen {
			ids = append(ids, a.ID)
		}
		byID[a.ID] = append(byID[a.ID], a)
	}

	resources, err := s.allocationResources(ctx, ids)
	if err != nil {
		return err
	}
	attributes, err := s.allocationAttributes(ctx, ids)
	if err != nil {
		return err
	}

	for id, list := range byID {
		for _, a := range list {
			a.Resources = resources[id]
			a.Attributes = attributes[id]
		}
	}
	return nil
}

func (s *ColdFrontStore) allocationResources(ctx context.Context, ids []any) (map[int64][]engine.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ar.allocation_id, r.id, r.name, r.is_available
		FROM allocation_allocation_resources ar
		JOIN resource_resource r ON r.id = ar.resource_id
		WHERE ar.allocation_id IN (`+placeholders(len(ids))+`)
		ORDER BY ar.id
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocation resources: %w", err)
	}
	defer rows.Close()

	type link struct {
		allocationID int64
		resource     engine.Resource
	}
	var links []link
	resourceIDs := []any{}
	seen := map[int64]bool{}
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.allocationID, &l.resource.ID, &l.resource.Name, &l.resource.Available); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		links = append(links, l)
		if !seen[l.resource.ID] {
			seen[l.resource.ID] = true
			resourceIDs = append(resourceIDs, l.resource.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	rows.Close()

	attrs, err := s.resourceAttributes(ctx, resourceIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[int64][]engine.Resource)
	for _, l := range links {
		l.resource.Attributes = attrs[l.resource.ID]
		result[l.allocationID] = append(result[l.allocationID], l.resource)
	}
	return result, nil
}

func (s *ColdFrontStore) resourceAttributes(ctx context.Context, ids []any) (map[int64]map[string]string, error) {
	result := make(map[int64]map[string]string)
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ra.resource_id, t.name, ra.value
		FROM resource_resourceattribute ra
		JOIN resource_resourceattributetype t ON t.id = ra.resource_attribute_type_id
		WHERE ra.resource_id IN (`+placeholders(len(ids))+`)
		ORDER BY ra.id
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource attributes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name, value string
		if err := rows.Scan(&id, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan resource attribute: %w", err)
		}
		if result[id] == nil {
			result[id] = make(map[string]string)
		}
		// The first value of a type wins.
		if _, ok := result[id][name]; !ok {
			result[id][name] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource attributes: %w", err)
	}
	return result, nil
}

func (s *ColdFrontStore) allocationAttributes(ctx context.Context, ids []any) (map[int64][]engine.Attribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aa.allocation_id, t.name, aa.value
		FROM allocation_allocationattribute aa
		JOIN allocation_allocationattributetype t ON t.id = aa.allocation_attribute_type_id
		WHERE aa.allocation_id IN (`+placeholders(len(ids))+`)
		ORDER BY aa.id
	`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocation attributes: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]engine.Attribute)
	for rows.Next() {
		var id int64
		var attr engine.Attribute
		if err := rows.Scan(&id, &attr.Name, &attr.Value); err != nil {
			return nil, fmt.Errorf("failed to scan allocation attribute: %w", err)
		}
		result[id] = append(result[id], attr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocation attributes: %w", err)
	}
	return result, nil
}
