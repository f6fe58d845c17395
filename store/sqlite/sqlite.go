/*
Package sqlite provides a SQLite-backed implementation of giftaid.TxRepository.

PURPOSE:
  Persists declarations, Gift Aid donation fields, batches and settings
  using SQLite. The host CRM owns donations and addresses; SaveDonation
  and SaveAddress exist so a standalone deployment (and tests) can seed them.

KEY TABLES:
  declarations:   Donor timelines (charity column optional, see CAPABILITIES)
  donations:      Host contributions plus is_eligible / eligible_amount /
                  reclaim_amount / batch_name
  line_items:     Per-financial-type split of a donation
  addresses:      Donors' primary addresses
  batches:        Gift Aid batches (name unique)
  entity_batch:   Donation to batch link (one batch per donation)
  batch_names:    Option set of titles stamped on donations
  batch_settings: Settings snapshot taken when a batch is created
  settings:       Raw setting values
  batch_submissions: Batches reported as sent to the tax authority by the
                  online submission integration

CAPABILITIES:
  Some CRM installs carry a charity column on declarations. The store
  probes the schema once when opened (PRAGMA table_info) and reports the
  result through Capabilities(). WithCharityColumn adds the column.

ENCODING:
  Timestamps are TEXT in generic.TimestampLayout (UTC), which sorts
  correctly as a string. Money is TEXT holding the exact decimal.

TRANSACTIONS:
  WithTx runs fn against a Repository bound to a *sql.Tx. Transactions are
  serialized per Store. A call whose context already carries this store's
  unit of work joins it instead of nesting. Post-commit hooks run after
  the commit, outside the transaction.

USAGE:
  store, err := sqlite.New("./data/giftaid.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := giftaid.NewService(store)

SEE ALSO:
  - giftaid/store.go: Interface definitions
  - giftaid/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/giftaid/generic"
	"github.com/warp/giftaid/giftaid"
)

// Store implements giftaid.TxRepository using SQLite.
type Store struct {
	*queries
	db   *sql.DB
	txMu sync.Mutex
}

var _ giftaid.TxRepository = (*Store)(nil)

// Option configures New.
type Option func(*options)

type options struct {
	charityColumn bool
}

// WithCharityColumn adds the optional charity column to declarations.
func WithCharityColumn() Option {
	return func(o *options) { o.charityColumn = true }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(o); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	caps, err := probeCapabilities(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to probe schema: %w", err)
	}
	store.queries = &queries{db: db, caps: caps}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate(o options) error {
	schema := `
	-- Declarations (one timeline per donor)
	CREATE TABLE IF NOT EXISTS declarations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		donor_id INTEGER NOT NULL,
		status INTEGER NOT NULL,
		start_date TEXT,
		end_date TEXT,
		reason_ended TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		post_code TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	);

	-- Timeline lookups (hot path for every resolve)
	CREATE INDEX IF NOT EXISTS idx_declarations_donor_start
		ON declarations(donor_id, start_date);

	-- Donations (owned by the host, Gift Aid fields owned by us)
	CREATE TABLE IF NOT EXISTS donations (
		id INTEGER PRIMARY KEY,
		donor_id INTEGER NOT NULL,
		receive_date TEXT NOT NULL,
		status TEXT NOT NULL,
		financial_type_id INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'GBP',
		recurring_id INTEGER NOT NULL DEFAULT 0,
		is_eligible INTEGER,
		eligible_amount TEXT,
		reclaim_amount TEXT,
		batch_name TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_donations_donor_date
		ON donations(donor_id, receive_date);

	-- Reconciliation scans for undetermined, unbatched donations
	CREATE INDEX IF NOT EXISTS idx_donations_undetermined
		ON donations(id) WHERE is_eligible IS NULL AND batch_name = '';

	CREATE TABLE IF NOT EXISTS line_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		donation_id INTEGER NOT NULL REFERENCES donations(id) ON DELETE CASCADE,
		financial_type_id INTEGER NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_donation
		ON line_items(donation_id);

	CREATE TABLE IF NOT EXISTS addresses (
		donor_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		supplemental_1 TEXT NOT NULL DEFAULT '',
		supplemental_2 TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state_province TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT ''
	);

	-- Batches
	CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		batch_type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- A donation sits in at most one batch
	CREATE TABLE IF NOT EXISTS entity_batch (
		donation_id INTEGER PRIMARY KEY,
		batch_id INTEGER NOT NULL REFERENCES batches(id)
	);

	CREATE INDEX IF NOT EXISTS idx_entity_batch_batch
		ON entity_batch(batch_id);

	CREATE TABLE IF NOT EXISTS batch_names (
		value TEXT NOT NULL UNIQUE COLLATE NOCASE
	);

	CREATE TABLE IF NOT EXISTS batch_settings (
		batch_id INTEGER PRIMARY KEY REFERENCES batches(id),
		globally_enabled INTEGER NOT NULL,
		financial_types_enabled TEXT NOT NULL DEFAULT '[]',
		basic_tax_rate TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batch_submissions (
		batch_id INTEGER PRIMARY KEY REFERENCES batches(id),
		submitted_at TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if !o.charityColumn {
		return nil
	}

	has, err := hasColumn(s.db, "declarations", "charity")
	if err != nil || has {
		return err
	}
	_, err = s.db.Exec(`ALTER TABLE declarations ADD COLUMN charity TEXT NOT NULL DEFAULT ''`)
	return err
}

func probeCapabilities(db *sql.DB) (giftaid.Capabilities, error) {
	charity, err := hasColumn(db, "declarations", "charity")
	if err != nil {
		return giftaid.Capabilities{}, err
	}
	return giftaid.Capabilities{Charity: charity}, nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (giftaid.TxRepository interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, giftaid.Repository) error) error {
	if uow, ok := generic.UnitOfWorkFrom(ctx); ok && uow.Owner() == s {
		if repo, ok := uow.Handle().(giftaid.Repository); ok {
			return fn(ctx, repo)
		}
	}

	uow, err := s.runTx(ctx, fn)
	if err != nil {
		return err
	}
	return uow.RunHooks(ctx)
}

func (s *Store) runTx(ctx context.Context, fn func(context.Context, giftaid.Repository) error) (*generic.UnitOfWork, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	repo := &queries{db: sqlTx, caps: s.caps}
	uow := generic.NewUnitOfWork(s, repo)
	if err := fn(generic.WithUnitOfWork(ctx, uow), repo); err != nil {
		uow.Discard()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		uow.Discard()
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return uow, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements giftaid.Repository over an execer.
type queries struct {
	db   execer
	caps giftaid.Capabilities
}

func (q *queries) Capabilities() giftaid.Capabilities { return q.caps }

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// DECLARATION STORE
// =============================================================================

func (q *queries) declarationColumns() string {
	cols := "id, donor_id, status, start_date, end_date, reason_ended, address, post_code, source, notes"
	if q.caps.Charity {
		cols += ", charity"
	}
	return cols
}

func (q *queries) scanDeclaration(row scanner) (giftaid.Declaration, error) {
	var (
		d         giftaid.Declaration
		startDate sql.NullString
		endDate   sql.NullString
	)
	dest := []any{
		&d.ID, &d.DonorID, &d.Status, &startDate, &endDate,
		&d.ReasonEnded, &d.Address, &d.PostCode, &d.Source, &d.Notes,
	}
	if q.caps.Charity {
		dest = append(dest, &d.Charity)
	}
	if err := row.Scan(dest...); err != nil {
		return d, err
	}

	var err error
	if d.StartDate, err = parseNullTime(startDate); err != nil {
		return d, err
	}
	if d.EndDate, err = parseNullTime(endDate); err != nil {
		return d, err
	}
	return d, nil
}

func (q *queries) DeclarationsByDonor(ctx context.Context, donorID giftaid.DonorID) ([]giftaid.Declaration, error) {
	query := "SELECT " + q.declarationColumns() + " FROM declarations WHERE donor_id = ? ORDER BY id"

	rows, err := q.db.QueryContext(ctx, query, donorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query declarations: %w", err)
	}
	defer rows.Close()

	var result []giftaid.Declaration
	for rows.Next() {
		d, err := q.scanDeclaration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan declaration: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (q *queries) GetDeclaration(ctx context.Context, id giftaid.DeclarationID) (*giftaid.Declaration, error) {
	query := "SELECT " + q.declarationColumns() + " FROM declarations WHERE id = ?"

	d, err := q.scanDeclaration(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("declaration", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get declaration: %w", err)
	}
	return &d, nil
}

func (q *queries) SaveDeclaration(ctx context.Context, d *giftaid.Declaration) error {
	if !q.caps.Charity {
		d.Charity = ""
	}
	args := []any{
		d.DonorID, d.Status, nullTime(d.StartDate), nullTime(d.EndDate),
		d.ReasonEnded, d.Address, d.PostCode, d.Source, d.Notes,
	}
	cols := "donor_id, status, start_date, end_date, reason_ended, address, post_code, source, notes"
	if q.caps.Charity {
		cols += ", charity"
		args = append(args, d.Charity)
	}

	if d.ID == 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
		res, err := q.db.ExecContext(ctx,
			"INSERT INTO declarations ("+cols+") VALUES ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("failed to insert declaration: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		d.ID = giftaid.DeclarationID(id)
		return nil
	}

	set := strings.Join(strings.Split(cols, ", "), " = ?, ") + " = ?"
	res, err := q.db.ExecContext(ctx,
		"UPDATE declarations SET "+set+" WHERE id = ?", append(args, d.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update declaration: %w", err)
	}
	return requireAffected(res, "declaration", d.ID)
}

func (q *queries) UpdateDeclaration(ctx context.Context, id giftaid.DeclarationID, u giftaid.DeclarationUpdate) error {
	d, err := q.GetDeclaration(ctx, id)
	if err != nil {
		return err
	}
	updated := u.Apply(*d)
	return q.SaveDeclaration(ctx, &updated)
}

func (q *queries) DeletePartialDeclarations(ctx context.Context, donorID giftaid.DonorID) (int, error) {
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM declarations WHERE donor_id = ? AND start_date IS NULL",
		donorID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete partial declarations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *queries) DonorsWithDeclarations(ctx context.Context) ([]giftaid.DonorID, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT DISTINCT donor_id FROM declarations ORDER BY donor_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []giftaid.DonorID
	for rows.Next() {
		var id giftaid.DonorID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// =============================================================================
// DONATION STORE
// =============================================================================

const donationColumns = `id, donor_id, receive_date, status, financial_type_id, total_amount,
	currency, recurring_id, is_eligible, eligible_amount, reclaim_amount, batch_name`

func scanDonation(row scanner) (giftaid.Donation, error) {
	var (
		d              giftaid.Donation
		receiveDate    string
		totalAmount    string
		isEligible     sql.NullBool
		eligibleAmount decimal.NullDecimal
		reclaimAmount  decimal.NullDecimal
	)
	err := row.Scan(
		&d.ID, &d.DonorID, &receiveDate, &d.Status, &d.FinancialType, &totalAmount,
		&d.Currency, &d.RecurringID, &isEligible, &eligibleAmount, &reclaimAmount, &d.BatchName,
	)
	if err != nil {
		return d, err
	}

	if d.ReceiveDate, err = generic.ParseTimestamp(receiveDate); err != nil {
		return d, err
	}
	if d.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return d, fmt.Errorf("bad total_amount %q: %w", totalAmount, err)
	}
	if isEligible.Valid {
		v := isEligible.Bool
		d.IsEligible = &v
	}
	if eligibleAmount.Valid {
		d.EligibleAmount = generic.DecimalPtr(eligibleAmount.Decimal)
	}
	if reclaimAmount.Valid {
		d.ReclaimAmount = generic.DecimalPtr(reclaimAmount.Decimal)
	}
	return d, nil
}

func (q *queries) GetDonation(ctx context.Context, id giftaid.DonationID) (*giftaid.Donation, error) {
	d, err := scanDonation(q.db.QueryRowContext(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("donation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}
	if d.LineItems, err = q.lineItems(ctx, d.ID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *queries) GetDonations(ctx context.Context, ids []giftaid.DonationID) ([]giftaid.Donation, error) {
	result := make([]giftaid.Donation, 0, len(ids))
	for _, id := range ids {
		d, err := q.GetDonation(ctx, id)
		if generic.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, nil
}

// FindDonations pushes the filter down to SQL.
func (q *queries) FindDonations(ctx context.Context, f giftaid.DonationFilter) ([]giftaid.Donation, error) {
	var (
		where []string
		args  []any
	)
	if f.ID != 0 {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.DonorID != 0 {
		where = append(where, "donor_id = ?")
		args = append(args, f.DonorID)
	}
	if f.OnlyUndetermined {
		where = append(where, "is_eligible IS NULL")
	}
	if f.OnlyEligible {
		where = append(where, "is_eligible = 1")
	}
	if f.ExcludeBatched {
		where = append(where, "batch_name = ''")
	}
	if f.ReceivedFrom != nil {
		where = append(where, "receive_date >= ?")
		args = append(args, generic.FormatTimestamp(*f.ReceivedFrom))
	}
	if f.ReceivedTo != nil {
		where = append(where, "receive_date <= ?")
		args = append(args, generic.FormatTimestamp(*f.ReceivedTo))
	}
	if len(f.FinancialTypes) > 0 {
		where = append(where, "financial_type_id IN ("+
			strings.TrimSuffix(strings.Repeat("?, ", len(f.FinancialTypes)), ", ")+")")
		for _, ft := range f.FinancialTypes {
			args = append(args, ft)
		}
	}

	query := "SELECT " + donationColumns + " FROM donations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	donations, err := q.queryDonations(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Line items are loaded after the cursor is closed; a transaction has a
	// single connection.
	for i := range donations {
		if donations[i].LineItems, err = q.lineItems(ctx, donations[i].ID); err != nil {
			return nil, err
		}
	}
	return donations, nil
}

func (q *queries) queryDonations(ctx context.Context, query string, args ...any) ([]giftaid.Donation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer rows.Close()

	var result []giftaid.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (q *queries) lineItems(ctx context.Context, id giftaid.DonationID) ([]giftaid.LineItem, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT financial_type_id, amount FROM line_items WHERE donation_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []giftaid.LineItem
	for rows.Next() {
		var (
			li     giftaid.LineItem
			amount string
		)
		if err := rows.Scan(&li.FinancialType, &amount); err != nil {
			return nil, err
		}
		if li.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad line item amount %q: %w", amount, err)
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (q *queries) UpdateGiftAidFields(ctx context.Context, id giftaid.DonationID, u giftaid.GiftAidUpdate) error {
	var (
		set  []string
		args []any
	)
	if u.SetEligibility {
		set = append(set, "is_eligible = ?", "eligible_amount = ?", "reclaim_amount = ?")
		args = append(args, nullBool(u.IsEligible), nullDecimal(u.EligibleAmount), nullDecimal(u.ReclaimAmount))
	}
	if u.BatchName != nil {
		set = append(set, "batch_name = ?")
		args = append(args, *u.BatchName)
	}
	if len(set) == 0 {
		_, err := q.GetDonation(ctx, id)
		return err
	}

	res, err := q.db.ExecContext(ctx,
		"UPDATE donations SET "+strings.Join(set, ", ")+" WHERE id = ?", append(args, id)...)
	if err != nil {
		return fmt.Errorf("failed to update gift aid fields: %w", err)
	}
	return requireAffected(res, "donation", id)
}

// SaveDonation inserts or replaces a donation and its line items. Donations
// belong to the host CRM; this is for seeding and standalone use.
func (q *queries) SaveDonation(ctx context.Context, d giftaid.Donation) error {
	currency := d.Currency
	if currency == "" {
		currency = "GBP"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO donations (`+donationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			donor_id = excluded.donor_id,
			receive_date = excluded.receive_date,
			status = excluded.status,
			financial_type_id = excluded.financial_type_id,
			total_amount = excluded.total_amount,
			currency = excluded.currency,
			recurring_id = excluded.recurring_id,
			is_eligible = excluded.is_eligible,
			eligible_amount = excluded.eligible_amount,
			reclaim_amount = excluded.reclaim_amount,
			batch_name = excluded.batch_name
	`,
		d.ID, d.DonorID, generic.FormatTimestamp(d.ReceiveDate), d.Status, d.FinancialType,
		d.TotalAmount.String(), currency, d.RecurringID,
		nullBool(d.IsEligible), nullDecimal(d.EligibleAmount), nullDecimal(d.ReclaimAmount), d.BatchName,
	)
	if err != nil {
		return fmt.Errorf("failed to save donation: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM line_items WHERE donation_id = ?", d.ID); err != nil {
		return err
	}
	for _, li := range d.LineItems {
		if _, err := q.db.ExecContext(ctx,
			"INSERT INTO line_items (donation_id, financial_type_id, amount) VALUES (?, ?, ?)",
			d.ID, li.FinancialType, li.Amount.String(),
		); err != nil {
			return fmt.Errorf("failed to save line item: %w", err)
		}
	}
	return nil
}

// =============================================================================
// BATCH STORE
// =============================================================================

const batchColumns = "b.id, b.name, b.title, b.description, b.batch_type, b.created_at"

func scanBatch(row scanner) (giftaid.Batch, error) {
	var (
		b         giftaid.Batch
		createdAt string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Title, &b.Description, &b.BatchType, &createdAt); err != nil {
		return b, err
	}
	t, err := generic.ParseTimestamp(createdAt)
	b.CreatedAt = t
	return b, err
}

func (q *queries) CreateBatch(ctx context.Context, b *giftaid.Batch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO batches (name, title, description, batch_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, b.Name, b.Title, b.Description, b.BatchType, generic.FormatTimestamp(b.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.ValidationError{Field: "name", Message: "batch name already in use: " + b.Name}
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = giftaid.BatchID(id)
	return nil
}

func (q *queries) GetBatch(ctx context.Context, id giftaid.BatchID) (*giftaid.Batch, error) {
	b, err := scanBatch(q.db.QueryRowContext(ctx,
		"SELECT "+batchColumns+" FROM batches b WHERE b.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("batch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func (q *queries) BatchForDonation(ctx context.Context, id giftaid.DonationID) (*giftaid.Batch, error) {
	b, err := scanBatch(q.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM entity_batch eb JOIN batches b ON b.id = eb.batch_id
		WHERE eb.donation_id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch for donation: %w", err)
	}
	return &b, nil
}

func (q *queries) LinkDonation(ctx context.Context, batchID giftaid.BatchID, donationID giftaid.DonationID) error {
	if _, err := q.GetBatch(ctx, batchID); err != nil {
		return err
	}

	var existing giftaid.BatchID
	err := q.db.QueryRowContext(ctx,
		"SELECT batch_id FROM entity_batch WHERE donation_id = ?", donationID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case existing == batchID:
		return nil
	default:
		return &generic.ValidationError{Field: "donation_id", Message: "donation is already in another batch"}
	}

	_, err = q.db.ExecContext(ctx,
		"INSERT INTO entity_batch (donation_id, batch_id) VALUES (?, ?)", donationID, batchID)
	if err != nil {
		return fmt.Errorf("failed to link donation: %w", err)
	}
	return nil
}

func (q *queries) UnlinkDonation(ctx context.Context, batchID giftaid.BatchID, donationID giftaid.DonationID) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM entity_batch WHERE donation_id = ? AND batch_id = ?", donationID, batchID)
	return err
}

func (q *queries) BatchDonations(ctx context.Context, batchID giftaid.BatchID) ([]giftaid.DonationID, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT donation_id FROM entity_batch WHERE batch_id = ? ORDER BY donation_id", batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []giftaid.DonationID
	for rows.Next() {
		var id giftaid.DonationID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (q *queries) RegisterBatchName(ctx context.Context, title string) (bool, error) {
	res, err := q.db.ExecContext(ctx, "INSERT OR IGNORE INTO batch_names (value) VALUES (?)", title)
	if err != nil {
		return false, fmt.Errorf("failed to register batch name: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *queries) BatchNames(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT value FROM batch_names ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (q *queries) SaveBatchSettings(ctx context.Context, s giftaid.BatchSettings) error {
	types, err := json.Marshal(nonNilTypes(s.FinancialTypesEnabled))
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO batch_settings (batch_id, globally_enabled, financial_types_enabled, basic_tax_rate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			globally_enabled = excluded.globally_enabled,
			financial_types_enabled = excluded.financial_types_enabled,
			basic_tax_rate = excluded.basic_tax_rate
	`, s.BatchID, s.GloballyEnabled, string(types), s.BasicTaxRate.String())
	if err != nil {
		return fmt.Errorf("failed to save batch settings: %w", err)
	}
	return nil
}

func (q *queries) GetBatchSettings(ctx context.Context, batchID giftaid.BatchID) (*giftaid.BatchSettings, error) {
	var (
		s     giftaid.BatchSettings
		types string
		rate  string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT batch_id, globally_enabled, financial_types_enabled, basic_tax_rate
		FROM batch_settings WHERE batch_id = ?
	`, batchID).Scan(&s.BatchID, &s.GloballyEnabled, &types, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("batch settings", batchID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(types), &s.FinancialTypesEnabled); err != nil {
		return nil, fmt.Errorf("bad financial_types_enabled %q: %w", types, err)
	}
	if s.BasicTaxRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("bad basic_tax_rate %q: %w", rate, err)
	}
	return &s, nil
}

// =============================================================================
// SETTINGS STORE & ADDRESS BOOK
// =============================================================================

func (q *queries) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := q.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (q *queries) SetSetting(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (q *queries) RevertSetting(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
	return err
}

func (q *queries) PrimaryAddress(ctx context.Context, donorID giftaid.DonorID) (*giftaid.Address, error) {
	var a giftaid.Address
	err := q.db.QueryRowContext(ctx, `
		SELECT name, street, supplemental_1, supplemental_2, city, state_province, postal_code
		FROM addresses WHERE donor_id = ?
	`, donorID).Scan(&a.Name, &a.Street, &a.Supplemental1, &a.Supplemental2, &a.City, &a.StateProvince, &a.PostalCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAddress sets a donor's primary address.
func (q *queries) SaveAddress(ctx context.Context, donorID giftaid.DonorID, a giftaid.Address) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO addresses (donor_id, name, street, supplemental_1, supplemental_2, city, state_province, postal_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(donor_id) DO UPDATE SET
			name = excluded.name,
			street = excluded.street,
			supplemental_1 = excluded.supplemental_1,
			supplemental_2 = excluded.supplemental_2,
			city = excluded.city,
			state_province = excluded.state_province,
			postal_code = excluded.postal_code
	`, donorID, a.Name, a.Street, a.Supplemental1, a.Supplemental2, a.City, a.StateProvince, a.PostalCode)
	return err
}

// =============================================================================
// RESET
// =============================================================================

// Reset clears all data except settings.
func (s *Store) Reset(ctx context.Context) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM batch_submissions;
		DELETE FROM batch_settings;
		DELETE FROM entity_batch;
		DELETE FROM batches;
		DELETE FROM batch_names;
		DELETE FROM line_items;
		DELETE FROM donations;
		DELETE FROM declarations;
		DELETE FROM addresses;
	`)
	return err
}

// =============================================================================
// ONLINE SUBMISSION (giftaid.SubmissionChecker)
// =============================================================================

// IsSubmitted reports whether the batch was sent to the tax authority.
// Inside one of the store's transactions it reads through that
// transaction; the pool may hold a single connection.
func (s *Store) IsSubmitted(ctx context.Context, batchID giftaid.BatchID) (bool, error) {
	q := s.queries
	if uow, ok := generic.UnitOfWorkFrom(ctx); ok && uow.Owner() == s {
		if txq, ok := uow.Handle().(*queries); ok {
			q = txq
		}
	}
	return q.IsSubmitted(ctx, batchID)
}

func (q *queries) IsSubmitted(ctx context.Context, batchID giftaid.BatchID) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM batch_submissions WHERE batch_id = ?", batchID).Scan(&count)
	return count > 0, err
}

// MarkSubmitted records that the batch was sent. Marking twice keeps the
// first timestamp.
func (q *queries) MarkSubmitted(ctx context.Context, batchID giftaid.BatchID, at time.Time) error {
	if _, err := q.GetBatch(ctx, batchID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO batch_submissions (batch_id, submitted_at) VALUES (?, ?)",
		batchID, generic.FormatTimestamp(at))
	return err
}

// Helper functions

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return generic.FormatTimestamp(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := generic.ParseTimestamp(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nonNilTypes(types []giftaid.FinancialTypeID) []giftaid.FinancialTypeID {
	if types == nil {
		return []giftaid.FinancialTypeID{}
	}
	return types
}

func requireAffected(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.NewNotFound(kind, id)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
