package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/strandkit/strand/pkg/api"
)

// The SQLite stores expect an *sql.DB that uses a SQLite driver (for
// example, "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"

// NewSQLiteStores initializes the required schema in the given database and
// returns a store bundle with every interface backed by it.
func NewSQLiteStores(db *sql.DB) (Stores, error) {
	ps, err := NewSQLiteProcessStore(db)
	if err != nil {
		return Stores{}, err
	}
	ms, err := NewSQLiteMessageStore(db)
	if err != nil {
		return Stores{}, err
	}
	ls, err := NewSQLiteLogStore(db)
	if err != nil {
		return Stores{}, err
	}
	cs, err := NewSQLiteCorrelationStore(db)
	if err != nil {
		return Stores{}, err
	}
	return Stores{Processes: ps, Messages: ms, Logs: ls, Correlations: cs}, nil
}

// SQLiteProcessStore is a ProcessStore backed by SQLite. The exclusive row
// lock is a lease: locked_by/locked_until columns claimed with a single
// conditional UPDATE, which makes TryLock fail fast instead of waiting on
// contention.
type SQLiteProcessStore struct {
	db *sql.DB
}

var _ ProcessStore = (*SQLiteProcessStore)(nil)

// NewSQLiteProcessStore initializes the processes table and returns a new
// SQLiteProcessStore.
func NewSQLiteProcessStore(db *sql.DB) (*SQLiteProcessStore, error) {
	s := &SQLiteProcessStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteProcessStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS processes (
			id TEXT PRIMARY KEY,
			shape TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			status TEXT NOT NULL,
			state BLOB,
			marking BLOB,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			locked_by TEXT NOT NULL DEFAULT '',
			locked_until INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

func (s *SQLiteProcessStore) Insert(ctx context.Context, info *api.ProcessInfo) error {
	state, err := EncodeValue(info.State)
	if err != nil {
		return err
	}

	now := time.Now()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processes (id, shape, fingerprint, status, state, marking, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID,
		info.Shape,
		info.Fingerprint,
		string(info.Status),
		state,
		info.Marking,
		info.Version,
		info.CreatedAt.UnixNano(),
		info.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteProcessStore) Update(ctx context.Context, info *api.ProcessInfo) error {
	state, err := EncodeValue(info.State)
	if err != nil {
		return err
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE processes
		SET status = ?, state = ?, marking = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(info.Status),
		state,
		info.Marking,
		now.UnixNano(),
		info.ID,
		info.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or its version moved under us.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processes WHERE id = ?`, info.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProcessNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}

	info.Version++
	info.UpdatedAt = now
	return nil
}

func (s *SQLiteProcessStore) SetStatus(ctx context.Context, id string, status api.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processes SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixNano(), id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProcessNotFound
	}
	return nil
}

func (s *SQLiteProcessStore) Get(ctx context.Context, id string) (*api.ProcessInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, shape, fingerprint, status, state, marking, version, created_at, updated_at
		FROM processes
		WHERE id = ?`,
		id,
	)
	info, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProcessNotFound
	}
	return info, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*api.ProcessInfo, error) {
	var (
		info      api.ProcessInfo
		statusStr string
		state     []byte
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&info.ID, &info.Shape, &info.Fingerprint, &statusStr,
		&state, &info.Marking, &info.Version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	info.Status = api.Status(statusStr)
	info.CreatedAt = time.Unix(0, createdAt)
	info.UpdatedAt = time.Unix(0, updatedAt)

	stateVal, err := DecodeValue(state)
	if err != nil {
		return nil, err
	}
	info.State = stateVal
	return &info, nil
}

func (s *SQLiteProcessStore) List(ctx context.Context, filter ProcessFilter) ([]*api.ProcessInfo, error) {
	query := `
		SELECT id, shape, fingerprint, status, state, marking, version, created_at, updated_at
		FROM processes`
	var args []any
	var clauses []string

	if filter.Shape != "" {
		clauses = append(clauses, "shape = ?")
		args = append(args, filter.Shape)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.ProcessInfo
	for rows.Next() {
		info, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

func (s *SQLiteProcessStore) TryLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE processes
		SET locked_by = ?, locked_until = ?
		WHERE id = ? AND (locked_by = '' OR locked_by = ? OR locked_until <= ?)`,
		owner,
		now.Add(ttl).UnixNano(),
		id,
		owner,
		now.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}

	// Not acquired: either contended or the row does not exist.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM processes WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrProcessNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteProcessStore) Unlock(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processes SET locked_by = '', locked_until = 0
		WHERE id = ? AND locked_by = ?`,
		id, owner,
	)
	return err
}

// SQLiteMessageStore is a MessageStore backed by SQLite. Each write is its
// own implicit transaction, independent of any resume in flight, which is
// what lets retry bookkeeping survive a resume rollback.
type SQLiteMessageStore struct {
	db *sql.DB
}

var _ MessageStore = (*SQLiteMessageStore)(nil)

// NewSQLiteMessageStore initializes the process_messages table and returns
// a new SQLiteMessageStore.
func NewSQLiteMessageStore(db *sql.DB) (*SQLiteMessageStore, error) {
	s := &SQLiteMessageStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMessageStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS process_messages (
			id TEXT PRIMARY KEY,
			process_id TEXT NOT NULL,
			wait_id TEXT NOT NULL,
			event TEXT NOT NULL,
			payload BLOB,
			status TEXT NOT NULL,
			delivery_attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteMessageStore) Upsert(ctx context.Context, msg *api.ProcessMessage) error {
	payload, err := EncodeValue(msg.Payload)
	if err != nil {
		return err
	}
	msg.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_messages (id, process_id, wait_id, event, payload, status, delivery_attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			delivery_attempts = excluded.delivery_attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		msg.ID,
		msg.ProcessID,
		msg.WaitID,
		msg.Event,
		payload,
		string(msg.Status),
		msg.DeliveryAttempts,
		msg.LastError,
		msg.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteMessageStore) Update(ctx context.Context, msg *api.ProcessMessage) error {
	msg.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE process_messages
		SET status = ?, delivery_attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(msg.Status),
		msg.DeliveryAttempts,
		msg.LastError,
		msg.UpdatedAt.UnixNano(),
		msg.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteMessageStore) Get(ctx context.Context, id string) (*api.ProcessMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, process_id, wait_id, event, payload, status, delivery_attempts, last_error, updated_at
		FROM process_messages
		WHERE id = ?`,
		id,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

func (s *SQLiteMessageStore) LatestFrozen(ctx context.Context, processID string) (*api.ProcessMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, process_id, wait_id, event, payload, status, delivery_attempts, last_error, updated_at
		FROM process_messages
		WHERE process_id = ? AND status = ?
		ORDER BY updated_at DESC
		LIMIT 1`,
		processID, string(api.MessageFrozen),
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

func scanMessage(row rowScanner) (*api.ProcessMessage, error) {
	var (
		msg       api.ProcessMessage
		payload   []byte
		statusStr string
		updatedAt int64
	)
	if err := row.Scan(
		&msg.ID, &msg.ProcessID, &msg.WaitID, &msg.Event, &payload,
		&statusStr, &msg.DeliveryAttempts, &msg.LastError, &updatedAt,
	); err != nil {
		return nil, err
	}

	msg.Status = api.MessageStatus(statusStr)
	msg.UpdatedAt = time.Unix(0, updatedAt)

	payloadVal, err := DecodeValue(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = payloadVal
	return &msg, nil
}

// SQLiteLogStore is an append-only LogStore backed by SQLite.
type SQLiteLogStore struct {
	db *sql.DB
}

var _ LogStore = (*SQLiteLogStore)(nil)

// NewSQLiteLogStore initializes the process_log table and returns a new
// SQLiteLogStore.
func NewSQLiteLogStore(db *sql.DB) (*SQLiteLogStore, error) {
	s := &SQLiteLogStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteLogStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS process_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			process_id TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteLogStore) Append(ctx context.Context, entry api.ProcessLogEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_log (process_id, message_id, kind, detail, at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ProcessID,
		entry.MessageID,
		string(entry.Kind),
		entry.Detail,
		entry.At.UnixNano(),
	)
	return err
}

func (s *SQLiteLogStore) ListByProcess(ctx context.Context, processID string) ([]api.ProcessLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, message_id, kind, detail, at
		FROM process_log
		WHERE process_id = ?
		ORDER BY seq`,
		processID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.ProcessLogEntry
	for rows.Next() {
		var (
			entry   api.ProcessLogEntry
			kindStr string
			at      int64
		)
		if err := rows.Scan(&entry.ProcessID, &entry.MessageID, &kindStr, &entry.Detail, &at); err != nil {
			return nil, err
		}
		entry.Kind = api.LogKind(kindStr)
		entry.At = time.Unix(0, at)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// SQLiteCorrelationStore is a CorrelationStore backed by SQLite.
type SQLiteCorrelationStore struct {
	db *sql.DB
}

var _ CorrelationStore = (*SQLiteCorrelationStore)(nil)

// NewSQLiteCorrelationStore initializes the correlations table and returns
// a new SQLiteCorrelationStore.
func NewSQLiteCorrelationStore(db *sql.DB) (*SQLiteCorrelationStore, error) {
	s := &SQLiteCorrelationStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCorrelationStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS correlations (
			external_id TEXT PRIMARY KEY,
			process_id TEXT NOT NULL,
			callback TEXT NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteCorrelationStore) Insert(ctx context.Context, externalID string, cb api.CallbackInfo) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (external_id, process_id, callback)
		VALUES (?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		externalID, cb.ProcessID, cb.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateCorrelation
	}
	return nil
}

func (s *SQLiteCorrelationStore) Lookup(ctx context.Context, externalID string) (api.CallbackInfo, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `
		SELECT callback FROM correlations WHERE external_id = ?`,
		externalID,
	).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return api.CallbackInfo{}, ErrCorrelationNotFound
	}
	if err != nil {
		return api.CallbackInfo{}, err
	}
	return api.ParseCallbackInfo(encoded)
}

func (s *SQLiteCorrelationStore) DeleteAllForProcess(ctx context.Context, processID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM correlations WHERE process_id = ?`, processID)
	return err
}
