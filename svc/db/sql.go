package db

import (
	"context"
	"database/sql"
	"hastebin/pkg/domain"
	"hastebin/svc/util"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type Options struct {
	Driver       string
	DSN          string
	Table        string
	AutoMigrate  bool
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

// SQL is the paste table behind database/sql.
type SQL struct {
	db            *sql.DB
	dialect       dialect
	table         string
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQL) DB() *sql.DB {
	return s.db
}
func (s *SQL) Driver() string {
	return s.dialect.driver
}
func (s *SQL) IsSQLite() bool {
	return s.dialect.isSQLite()
}

// NewSQLite opens a sqlite3 database at path with default pool settings.
func NewSQLite(path string) (*SQL, error) {
	return Open(Options{Driver: "sqlite3", DSN: path, Table: "pastes", AutoMigrate: true})
}

func Open(o Options) (*SQL, error) {
	d, err := dialectFor(o.Driver)
	if err != nil {
		return nil, err
	}
	if o.Table == "" {
		o.Table = "pastes"
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = defaultMaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = defaultMaxIdleConns
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = defaultQueryTimeout
	}
	db, err := sql.Open(d.sqlName, d.dsn(o.DSN))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQL{
		db:           db,
		dialect:      d,
		table:        o.Table,
		queryTimeout: o.QueryTimeout,
	}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if o.AutoMigrate {
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "migration failed")
		}
	}
	return s, nil
}
func (s *SQL) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQL) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isDuplicateKey(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		util.Warn().Err(err).Int32("failures", failures).Msg("database circuit opened")
	}
}
func (s *SQL) configure() error {
	if !s.dialect.isSQLite() {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	if _, err := s.db.Exec("PRAGMA synchronous=FULL"); err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	return nil
}
func (s *SQL) migrate() error {
	_, err := s.db.Exec(s.dialect.createTable(s.table))
	return err
}
func (s *SQL) q(query string) string {
	return s.dialect.rebind(query)
}

// IDs returns every stored id.
func (s *SQL) IDs(ctx context.Context) (util.IDSet, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, "SELECT id FROM "+s.table)
	if err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "select ids")
	}
	defer rows.Close()
	ids := util.NewIDSet()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			s.recordError(err)
			return nil, errors.Wrap(err, "scan id")
		}
		ids.Add(id)
	}
	err = rows.Err()
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "iterate ids")
	}
	return ids, nil
}

// Create inserts p under its explicit id. A taken id yields domain.ErrDuplicateID.
func (s *SQL) Create(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	content, err := domain.EncodeContent(p.Content)
	if err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := s.q(`INSERT INTO ` + s.table + ` (id, content, signature, views, timestamp) VALUES (?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(queryCtx, q, p.ID, content, p.Signature, p.Views, p.Timestamp)
	s.recordError(err)
	if isDuplicateKey(err) {
		return errors.Wrapf(domain.ErrDuplicateID, "db create %d", p.ID)
	}
	return errors.Wrap(err, "db create")
}

// Get returns the stored record or domain.ErrPasteNotFound.
func (s *SQL) Get(ctx context.Context, id int64) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := s.q(`SELECT id, content, signature, views, timestamp FROM ` + s.table + ` WHERE id = ?`)
	var (
		p       domain.Paste
		content string
	)
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&p.ID, &content, &p.Signature, &p.Views, &p.Timestamp)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	if p.Content, err = domain.DecodeContent(content); err != nil {
		return nil, errors.Wrapf(err, "paste %d", id)
	}
	return &p, nil
}

// IncrViews adds one view in a single statement and returns the new count.
func (s *SQL) IncrViews(ctx context.Context, id int64) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if s.dialect.returning {
		var views int64
		q := s.q(`UPDATE ` + s.table + ` SET views = views + 1 WHERE id = ? RETURNING views`)
		err := s.db.QueryRowContext(queryCtx, q, id).Scan(&views)
		if err == sql.ErrNoRows {
			return 0, domain.ErrPasteNotFound
		}
		s.recordError(err)
		if err != nil {
			return 0, errors.Wrap(err, "incr views")
		}
		return views, nil
	}
	// LAST_INSERT_ID(expr) hands the new value back on this connection only.
	res, err := s.db.ExecContext(queryCtx, `UPDATE `+s.table+` SET views = LAST_INSERT_ID(views + 1) WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "incr views")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "incr views rows")
	}
	if n == 0 {
		return 0, domain.ErrPasteNotFound
	}
	views, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "read views")
	}
	return views, nil
}
func (s *SQL) Ping(ctx context.Context) error {
	var result int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
func (s *SQL) Close() error {
	return s.db.Close()
}
