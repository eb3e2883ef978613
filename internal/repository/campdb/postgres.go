package campdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

// campRow maps the camps table. Categories are stored as a comma separated list.
type campRow struct {
	ID           int64    `gorm:"column:id;primaryKey"`
	Name         string   `gorm:"column:name"`
	Organization string   `gorm:"column:organization"`
	Description  string   `gorm:"column:description"`
	LocationName string   `gorm:"column:location_name"`
	Address      string   `gorm:"column:address"`
	City         string   `gorm:"column:city"`
	State        string   `gorm:"column:state"`
	Zip          string   `gorm:"column:zip"`
	Latitude     *float64 `gorm:"column:latitude"`
	Longitude    *float64 `gorm:"column:longitude"`
	PricePerWeek *float64 `gorm:"column:price_per_week"`
	MinGrade     *int     `gorm:"column:min_grade"`
	MaxGrade     *int     `gorm:"column:max_grade"`
	MinAge       *int     `gorm:"column:min_age"`
	MaxAge       *int     `gorm:"column:max_age"`
	Categories   string   `gorm:"column:categories"`
}

func (campRow) TableName() string { return "camps" }

func (r campRow) toRecord() camp.Record {
	var cats []string
	for _, c := range strings.Split(r.Categories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	return camp.Record{
		ID:           r.ID,
		Name:         r.Name,
		Organization: r.Organization,
		Description:  r.Description,
		Location: camp.Location{
			Name:      r.LocationName,
			Address:   r.Address,
			City:      r.City,
			State:     r.State,
			Zip:       r.Zip,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
		},
		PricePerWeek: r.PricePerWeek,
		MinGrade:     r.MinGrade,
		MaxGrade:     r.MaxGrade,
		MinAge:       r.MinAge,
		MaxAge:       r.MaxAge,
		Categories:   cats,
	}
}

func rowFromRecord(r camp.Record) campRow {
	return campRow{
		ID:           r.ID,
		Name:         r.Name,
		Organization: r.Organization,
		Description:  r.Description,
		LocationName: r.Location.Name,
		Address:      r.Location.Address,
		City:         r.Location.City,
		State:        r.Location.State,
		Zip:          r.Location.Zip,
		Latitude:     r.Location.Latitude,
		Longitude:    r.Location.Longitude,
		PricePerWeek: r.PricePerWeek,
		MinGrade:     r.MinGrade,
		MaxGrade:     r.MaxGrade,
		MinAge:       r.MinAge,
		MaxAge:       r.MaxAge,
		Categories:   strings.Join(r.Categories, ","),
	}
}

// PostgresOptions tune the Postgres repository.
type PostgresOptions struct {
	QueryTimeout  time.Duration
	RetryAttempts uint
	RetryDelay    time.Duration
	MaxRows       int
	BatchSize     int
}

// PostgresRepository queries camps with gorm. Each call is bounded by QueryTimeout and
// retried on transient failures; cancellation by the caller is never retried.
type PostgresRepository struct {
	db     *gorm.DB
	opts   PostgresOptions
	logger *zap.Logger
}

// OpenPostgres connects using a DSN and configures the pool.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// NewPostgresRepository wraps an open gorm handle.
func NewPostgresRepository(db *gorm.DB, opts PostgresOptions, logger *zap.Logger) *PostgresRepository {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 500
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRepository{db: db, opts: opts, logger: logger.Named("campdb")}
}

// Migrate creates the camps table when missing.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&campRow{})
}

// Seed upserts records, used to load the YAML catalog into an empty database.
func (r *PostgresRepository) Seed(ctx context.Context, records []camp.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]campRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rowFromRecord(rec))
	}
	return r.db.WithContext(ctx).Save(&rows).Error
}

// Query pushes numeric and state predicates into SQL and applies the text predicates in Go,
// so category and city matching behave exactly like the in-memory catalog. Rows are scanned
// in id order batches and MaxRows caps the matched records, not the scanned ones.
func (r *PostgresRepository) Query(ctx context.Context, criteria camp.FilterCriteria) ([]camp.Record, error) {
	var out []camp.Record
	err := r.do(ctx, "query", func(ctx context.Context) error {
		out = make([]camp.Record, 0)
		var rows []campRow
		err := applyCriteria(r.db.WithContext(ctx), criteria).
			FindInBatches(&rows, r.opts.BatchSize, func(_ *gorm.DB, _ int) error {
				var full bool
				out, full = collectMatches(out, rows, criteria, r.opts.MaxRows)
				if full {
					return errEnoughRows
				}
				return nil
			}).Error
		if errors.Is(err, errEnoughRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var errEnoughRows = errors.New("campdb: row limit reached")

// collectMatches 追加满足条件的行，达到 limit 时返回 true。
func collectMatches(out []camp.Record, rows []campRow, criteria camp.FilterCriteria, limit int) ([]camp.Record, bool) {
	for _, row := range rows {
		rec := row.toRecord()
		if !criteria.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			return out, true
		}
	}
	return out, false
}

// Categories lists distinct category names.
func (r *PostgresRepository) Categories(ctx context.Context) ([]string, error) {
	var raw []string
	err := r.do(ctx, "categories", func(ctx context.Context) error {
		raw = raw[:0]
		return r.db.WithContext(ctx).Model(&campRow{}).Distinct().Pluck("categories", &raw).Error
	})
	if err != nil {
		return nil, err
	}
	records := make([]camp.Record, 0, len(raw))
	for _, joined := range raw {
		records = append(records, campRow{Categories: joined}.toRecord())
	}
	return uniqueCategories(records), nil
}

// FindByID looks up a single camp.
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (camp.Record, error) {
	var row campRow
	err := r.do(ctx, "find", func(ctx context.Context) error {
		err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return retry.Unrecoverable(ErrNotFound)
		}
		return err
	})
	if err != nil {
		return camp.Record{}, err
	}
	return row.toRecord(), nil
}

func (r *PostgresRepository) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
			defer cancel()
			return fn(callCtx)
		},
		retry.Context(ctx),
		retry.Attempts(r.opts.RetryAttempts),
		retry.Delay(r.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("camp query retry", zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func applyCriteria(q *gorm.DB, c camp.FilterCriteria) *gorm.DB {
	if loc := strings.TrimSpace(c.Location); loc != "" {
		if code, ok := geo.LookupState(loc); ok {
			q = q.Where("UPPER(state) = ?", code)
		}
	}
	if c.MaxPrice != nil {
		q = q.Where("price_per_week IS NOT NULL AND price_per_week <= ?", *c.MaxPrice)
	}
	if c.MinPrice != nil {
		q = q.Where("price_per_week IS NOT NULL AND price_per_week >= ?", *c.MinPrice)
	}
	if c.Age != nil {
		q = q.Where("(min_age IS NULL OR min_age <= ?) AND (max_age IS NULL OR max_age >= ?)", *c.Age, *c.Age)
	}
	if c.AgeCeiling != nil {
		q = q.Where("min_age IS NULL OR min_age <= ?", *c.AgeCeiling)
	}
	if c.MinGrade != nil || c.MaxGrade != nil {
		q = q.Where("NOT (min_grade IS NULL AND max_grade IS NULL)")
		if c.MinGrade != nil {
			q = q.Where("max_grade IS NULL OR max_grade >= ?", *c.MinGrade)
		}
		if c.MaxGrade != nil {
			q = q.Where("min_grade IS NULL OR min_grade <= ?", *c.MaxGrade)
		}
	}
	return q
}
