package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mirkobrombin/go-spin/v1/harness"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

const (
	defaultTableName = "spin_reports"
	defaultOpTimeout = 5 * time.Second
)

// reportRow keeps the fields worth querying in columns and the full report
// encoded in Data.
type reportRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	Backend  string    `gorm:"column:backend;index"`
	Workers  int       `gorm:"column:workers"`
	Counter  int       `gorm:"column:counter"`
	Expected int       `gorm:"column:expected"`
	OK       bool      `gorm:"column:ok"`
	Started  time.Time `gorm:"column:started;index"`
	Data     []byte    `gorm:"column:data"`
}

// GormStore implements Store on any database supported by GORM.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
	codec     Codec
}

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithGormTableName sets the table reports are written to.
func WithGormTableName(name string) GormOption {
	return func(s *GormStore) { s.tableName = name }
}

// WithGormTimeout bounds every database call.
func WithGormTimeout(d time.Duration) GormOption {
	return func(s *GormStore) { s.timeout = d }
}

// NewGorm returns a GormStore on db, creating its table when missing.
func NewGorm(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	s := &GormStore{
		db:        db,
		tableName: defaultTableName,
		timeout:   defaultOpTimeout,
		codec:     JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.Table(s.tableName).AutoMigrate(&reportRow{}); err != nil {
		return nil, fmt.Errorf("report: migrate %s: %w", s.tableName, err)
	}
	return s, nil
}

// Save implements Store.Save. Saving a report id twice overwrites it.
func (s *GormStore) Save(ctx context.Context, rep *harness.Report) error {
	if rep == nil || rep.ID == "" {
		return errors.New("report: missing id")
	}
	data, err := s.codec.Marshal(rep)
	if err != nil {
		return fmt.Errorf("report: encode %s: %w", rep.ID, err)
	}
	row := reportRow{
		ID:       rep.ID,
		Backend:  rep.Backend,
		Workers:  rep.Workers,
		Counter:  rep.Counter,
		Expected: rep.Expected,
		OK:       rep.OK(),
		Started:  rep.Started,
		Data:     data,
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.db.WithContext(cctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	return timeoutErr(err)
}

// Load implements Store.Load.
func (s *GormStore) Load(ctx context.Context, id string) (*harness.Report, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row reportRow
	err := s.db.WithContext(cctx).Table(s.tableName).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, timeoutErr(err)
	}
	return s.decode(row)
}

// Recent returns up to limit reports, newest first. A non-empty backend
// restricts the result to that backend.
func (s *GormStore) Recent(ctx context.Context, backend string, limit int) ([]*harness.Report, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := s.db.WithContext(cctx).Table(s.tableName).Order("started DESC").Limit(limit)
	if backend != "" {
		q = q.Where("backend = ?", backend)
	}
	var rows []reportRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, timeoutErr(err)
	}
	reps := make([]*harness.Report, 0, len(rows))
	for _, row := range rows {
		rep, err := s.decode(row)
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return reps, nil
}

func (s *GormStore) decode(row reportRow) (*harness.Report, error) {
	var rep harness.Report
	if err := s.codec.Unmarshal(row.Data, &rep); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", row.ID, err)
	}
	return &rep, nil
}

func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", spinerrors.ErrTimeout, err)
	}
	return err
}
