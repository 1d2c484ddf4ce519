package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/port"
)

const mysqlErrDuplicateEntry = 1062

const listingColumns = `id, owner_uid, owner_email, owner_name, owner_photo_url, name, description,
	category, quantity, unit, price_per_unit, location, harvest_date, image_url, is_organic,
	status, version, schema_version, created_at, updated_at`

const interestColumns = `id, listing_id, buyer_uid, buyer_email, buyer_name, buyer_photo_url,
	requested_quantity, message, status, submitted_at, processed_at`

// listingSortColumns maps API sort fields to columns.
var listingSortColumns = map[string]string{
	"createdAt":    "created_at",
	"updatedAt":    "updated_at",
	"pricePerUnit": "price_per_unit",
	"quantity":     "quantity",
	"name":         "name",
	"category":     "category",
	"location":     "location",
	"status":       "status",
	"harvestDate":  "harvest_date",
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) CreateListing(ctx context.Context, l domain.Listing) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Owner.UID, l.Owner.Email, l.Owner.Name, l.Owner.PhotoURL, l.Name, l.Description,
		l.Category, l.Quantity, l.Unit, l.PricePerUnit, l.Location, nullTime(l.HarvestDate), l.ImageURL, l.IsOrganic,
		l.Status, l.Version, l.SchemaVersion, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	return getListing(ctx, m.db, id)
}

func getListing(ctx context.Context, q queryer, id string) (*domain.Listing, error) {
	row := q.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query listing: %w", err)
	}

	interests, err := loadInterests(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	l.Interests = interests[id]
	if l.Interests == nil {
		l.Interests = []domain.Interest{}
	}
	return &l, nil
}

func (m *MySQLAdapter) UpdateListing(ctx context.Context, l domain.Listing) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE listings
		SET name = ?, description = ?, category = ?, quantity = ?, unit = ?, price_per_unit = ?,
			location = ?, harvest_date = ?, image_url = ?, is_organic = ?, status = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.Name, l.Description, l.Category, l.Quantity, l.Unit, l.PricePerUnit,
		l.Location, nullTime(l.HarvestDate), l.ImageURL, l.IsOrganic, l.Status,
		l.UpdatedAt, l.ID, l.Version,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	var exists int
	err = m.db.QueryRowContext(ctx, `SELECT 1 FROM listings WHERE id = ?`, l.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query listing: %w", err)
	}
	return port.ErrVersionConflict
}

func (m *MySQLAdapter) DeleteListing(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrNotFound
	}
	return nil
}

func (m *MySQLAdapter) AppendInterest(ctx context.Context, listingID string, in domain.Interest) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// touching the listing row first keeps the lock order listing -> interest
	result, err := tx.ExecContext(ctx, `
		UPDATE listings SET version = version + 1, updated_at = ? WHERE id = ?`,
		in.SubmittedAt, listingID,
	)
	if err != nil {
		return fmt.Errorf("lock listing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO listing_interests (`+interestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, listingID, in.Buyer.UID, in.Buyer.Email, in.Buyer.Name, in.Buyer.PhotoURL,
		in.RequestedQuantity, in.Message, in.Status, in.SubmittedAt, nullTime(in.ProcessedAt),
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
			return port.ErrDuplicatePending
		}
		return fmt.Errorf("insert interest: %w", err)
	}

	return tx.Commit()
}

func (m *MySQLAdapter) ApplyTransition(ctx context.Context, t domain.Transition) (*domain.Listing, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM listings WHERE id = ? FOR UPDATE`, t.ListingID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrConditionNotMet
	}
	if err != nil {
		return nil, fmt.Errorf("lock listing: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE listing_interests
		SET status = ?, processed_at = ?
		WHERE id = ? AND listing_id = ? AND status = ?`,
		t.To, t.At, t.InterestID, t.ListingID, domain.InterestStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("update interest: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, port.ErrConditionNotMet
	}

	switch {
	case t.IsAccept() && t.Guard == domain.AcceptGuardStrict:
		// status is assigned first so it sees the quantity before the decrement
		result, err = tx.ExecContext(ctx, `
			UPDATE listings
			SET status = CASE WHEN quantity - CAST(? AS DECIMAL(15,3)) = 0 THEN ? ELSE ? END,
				quantity = quantity - CAST(? AS DECIMAL(15,3)),
				version = version + 1, updated_at = ?
			WHERE id = ? AND quantity >= CAST(? AS DECIMAL(15,3))`,
			t.RequestedQuantity, domain.ListingStatusSoldOut, domain.ListingStatusAvailable,
			t.RequestedQuantity, t.At, t.ListingID, t.RequestedQuantity,
		)
		if err != nil {
			return nil, fmt.Errorf("decrement quantity: %w", err)
		}
		rows, _ = result.RowsAffected()
		if rows == 0 {
			return nil, port.ErrInsufficientQuantity
		}
	case t.IsAccept():
		next := t.ReferenceQuantity()
		_, err = tx.ExecContext(ctx, `
			UPDATE listings
			SET quantity = ?, status = ?, version = version + 1, updated_at = ?
			WHERE id = ?`,
			next, domain.DeriveStatus(next), t.At, t.ListingID,
		)
		if err != nil {
			return nil, fmt.Errorf("write quantity: %w", err)
		}
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE listings SET version = version + 1, updated_at = ? WHERE id = ?`,
			t.At, t.ListingID,
		)
		if err != nil {
			return nil, fmt.Errorf("touch listing: %w", err)
		}
	}

	l, err := getListing(ctx, tx, t.ListingID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, port.ErrConditionNotMet
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return l, nil
}

func (m *MySQLAdapter) RemovePendingInterest(ctx context.Context, listingID, interestID, buyerUID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE listings SET version = version + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), listingID,
	)
	if err != nil {
		return fmt.Errorf("lock listing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrConditionNotMet
	}

	result, err = tx.ExecContext(ctx, `
		DELETE FROM listing_interests
		WHERE id = ? AND listing_id = ? AND buyer_uid = ? AND status = ?`,
		interestID, listingID, buyerUID, domain.InterestStatusPending,
	)
	if err != nil {
		return fmt.Errorf("delete interest: %w", err)
	}
	rows, _ = result.RowsAffected()
	if rows == 0 {
		return port.ErrConditionNotMet
	}

	return tx.Commit()
}

func (m *MySQLAdapter) ListListings(ctx context.Context, filter domain.ListingFilter) (domain.ListingPage, error) {
	page, limit := domain.NormalizePage(filter.Page, filter.Limit)
	where, args := listingWhere(filter)

	col, ok := listingSortColumns[filter.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if filter.SortDesc {
		dir = "DESC"
	}

	var (
		total int
		items []domain.Listing
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := m.db.QueryRowContext(gctx, `SELECT COUNT(*) FROM listings`+where, args...).Scan(&total)
		if err != nil {
			return fmt.Errorf("count listings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `SELECT ` + listingColumns + ` FROM listings` + where +
			fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT ? OFFSET ?`, col, dir, dir)
		pageArgs := append(append([]any{}, args...), limit, domain.Offset(page, limit))

		rows, err := m.db.QueryContext(gctx, query, pageArgs...)
		if err != nil {
			return fmt.Errorf("query listings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			l, err := scanListing(rows)
			if err != nil {
				return fmt.Errorf("scan listing: %w", err)
			}
			items = append(items, l)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return domain.ListingPage{}, err
	}

	if filter.IncludeInterests && len(items) > 0 {
		ids := make([]string, len(items))
		for i := range items {
			ids[i] = items[i].ID
		}
		byListing, err := loadInterests(ctx, m.db, ids)
		if err != nil {
			return domain.ListingPage{}, err
		}
		for i := range items {
			items[i].Interests = byListing[items[i].ID]
			if items[i].Interests == nil {
				items[i].Interests = []domain.Interest{}
			}
		}
	}

	if items == nil {
		items = []domain.Listing{}
	}
	return domain.ListingPage{
		Items:      items,
		Pagination: domain.NewPagination(page, limit, total, len(items)),
	}, nil
}

func listingWhere(f domain.ListingFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.OwnerUID != "" {
		conds = append(conds, "owner_uid = ?")
		args = append(args, f.OwnerUID)
	}
	if f.MinPrice != nil {
		conds = append(conds, "price_per_unit >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price_per_unit <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.Location != "" {
		conds = append(conds, "LOWER(location) LIKE ?")
		args = append(args, likePattern(f.Location))
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		conds = append(conds, "(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, p, p)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func (m *MySQLAdapter) ListCategories(ctx context.Context) ([]domain.CategoryCount, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS n
		FROM listings
		WHERE status = ?
		GROUP BY category
		ORDER BY n DESC, category ASC`,
		domain.ListingStatusAvailable,
	)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := []domain.CategoryCount{}
	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) ListBuyerInterests(ctx context.Context, filter domain.BuyerInterestFilter) (domain.BuyerInterestPage, error) {
	page, limit := domain.NormalizePage(filter.Page, filter.Limit)

	where := ` WHERE i.buyer_uid = ?`
	args := []any{filter.BuyerUID}
	if filter.Status != "" {
		where += ` AND i.status = ?`
		args = append(args, filter.Status)
	}

	var (
		total int
		items []domain.BuyerInterest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := m.db.QueryRowContext(gctx, `SELECT COUNT(*) FROM listing_interests i`+where, args...).Scan(&total)
		if err != nil {
			return fmt.Errorf("count interests: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		pageArgs := append(append([]any{}, args...), limit, domain.Offset(page, limit))
		rows, err := m.db.QueryContext(gctx, `
			SELECT i.id, i.requested_quantity, i.message, i.status, i.submitted_at, i.processed_at,
				l.id, l.name, l.image_url, l.category, l.location, l.price_per_unit, l.unit, l.status,
				l.owner_uid, l.owner_email, l.owner_name, l.owner_photo_url
			FROM listing_interests i
			JOIN listings l ON l.id = i.listing_id`+where+`
			ORDER BY i.submitted_at DESC, i.id DESC
			LIMIT ? OFFSET ?`, pageArgs...)
		if err != nil {
			return fmt.Errorf("query interests: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				bi        domain.BuyerInterest
				processed sql.NullTime
			)
			if err := rows.Scan(
				&bi.ID, &bi.RequestedQuantity, &bi.Message, &bi.Status, &bi.SubmittedAt, &processed,
				&bi.ListingID, &bi.ListingName, &bi.ListingImage, &bi.Category, &bi.Location,
				&bi.PricePerUnit, &bi.Unit, &bi.ListingStatus,
				&bi.Owner.UID, &bi.Owner.Email, &bi.Owner.Name, &bi.Owner.PhotoURL,
			); err != nil {
				return fmt.Errorf("scan interest: %w", err)
			}
			bi.ProcessedAt = timePtr(processed)
			items = append(items, bi)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return domain.BuyerInterestPage{}, err
	}

	if items == nil {
		items = []domain.BuyerInterest{}
	}
	return domain.BuyerInterestPage{
		Items:      items,
		Pagination: domain.NewPagination(page, limit, total, len(items)),
	}, nil
}

func loadInterests(ctx context.Context, q queryer, listingIDs []string) (map[string][]domain.Interest, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(listingIDs)), ",")
	args := make([]any, len(listingIDs))
	for i, id := range listingIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+interestColumns+`
		FROM listing_interests
		WHERE listing_id IN (`+placeholders+`)
		ORDER BY submitted_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query interests: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Interest, len(listingIDs))
	for rows.Next() {
		var (
			in        domain.Interest
			listingID string
			processed sql.NullTime
		)
		if err := rows.Scan(
			&in.ID, &listingID, &in.Buyer.UID, &in.Buyer.Email, &in.Buyer.Name, &in.Buyer.PhotoURL,
			&in.RequestedQuantity, &in.Message, &in.Status, &in.SubmittedAt, &processed,
		); err != nil {
			return nil, fmt.Errorf("scan interest: %w", err)
		}
		in.ProcessedAt = timePtr(processed)
		out[listingID] = append(out[listingID], in)
	}
	return out, rows.Err()
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l       domain.Listing
		harvest sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.Owner.UID, &l.Owner.Email, &l.Owner.Name, &l.Owner.PhotoURL, &l.Name, &l.Description,
		&l.Category, &l.Quantity, &l.Unit, &l.PricePerUnit, &l.Location, &harvest, &l.ImageURL, &l.IsOrganic,
		&l.Status, &l.Version, &l.SchemaVersion, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.HarvestDate = timePtr(harvest)
	return l, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
