package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
)

// ErrUnavailable wraps database failures and timeouts.
var ErrUnavailable = errors.New("search unavailable")

// Repository is the database capability.
type Repository interface {
	Query(ctx context.Context, criteria camp.FilterCriteria) ([]camp.Record, error)
}

// Parser extracts explicit overrides from the triggering message.
type Parser interface {
	Parse(text string) camp.FilterCriteria
}

// Result is a finished search. Records replace the session baseline wholesale.
type Result struct {
	Criteria camp.FilterCriteria
	Records  []camp.Record
}

// Options tune the executor.
type Options struct {
	DistanceWorkers int
}

// Executor turns a completed profile plus a message into a database query.
type Executor struct {
	repo     Repository
	parser   Parser
	geocoder geo.Geocoder
	distance geo.DistanceFunc
	workers  int
	logger   *zap.Logger
}

// NewExecutor wires the collaborators. A nil distance defaults to Haversine.
func NewExecutor(repo Repository, parser Parser, geocoder geo.Geocoder, distance geo.DistanceFunc, opts Options, logger *zap.Logger) *Executor {
	if distance == nil {
		distance = geo.Haversine
	}
	if opts.DistanceWorkers <= 0 {
		opts.DistanceWorkers = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		repo:     repo,
		parser:   parser,
		geocoder: geocoder,
		distance: distance,
		workers:  opts.DistanceWorkers,
		logger:   logger.Named("search"),
	}
}

// ProfileCriteria derives the default criteria from a profile: grade, age, interests as
// categories, address and radius.
func ProfileCriteria(p chat.Profile) camp.FilterCriteria {
	var c camp.FilterCriteria
	if p.ChildGrade != nil {
		lo, hi := *p.ChildGrade, *p.ChildGrade
		c.MinGrade, c.MaxGrade = &lo, &hi
	}
	if p.ChildAge != nil {
		age := *p.ChildAge
		c.Age = &age
	}
	if len(p.Interests) > 0 {
		c.Categories = append([]string(nil), p.Interests...)
	}
	c.Address = strings.TrimSpace(p.Address)
	if p.MaxDistanceMiles != nil {
		d := *p.MaxDistanceMiles
		c.MaxDistanceMiles = &d
	}
	return c
}

// BuildCriteria merges the profile defaults with explicit values from message. A message
// naming a location replaces the home radius; a message ordinal is not a search constraint.
func (e *Executor) BuildCriteria(p chat.Profile, message string) camp.FilterCriteria {
	override := e.parser.Parse(message)
	override.Ordinal = nil
	merged := ProfileCriteria(p).Merge(override)
	if override.Location != "" && override.MaxDistanceMiles == nil {
		merged.MaxDistanceMiles = nil
	}
	return merged
}

// Execute runs a search. It never touches the session; the caller replaces its baseline with
// Result.Records on success and leaves it alone on error.
func (e *Executor) Execute(ctx context.Context, p chat.Profile, message string) (Result, error) {
	criteria := e.BuildCriteria(p, message)

	query := criteria
	query.Address, query.MaxDistanceMiles = "", nil
	records, err := e.repo.Query(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result := Result{Criteria: criteria, Records: records}
	if criteria.Address == "" || e.geocoder == nil {
		return result, nil
	}

	origin, err := e.geocoder.Geocode(ctx, criteria.Address)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, ctxErr)
		}
		// Without an origin the radius cannot be applied; keep the unbounded result.
		e.logger.Warn("address not geocoded, skipping distance filter", zap.Error(err))
		return result, nil
	}
	withDistance, err := e.annotate(ctx, origin, records)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	result.Records = withinRadius(withDistance, criteria.MaxDistanceMiles)
	e.logger.Debug("search finished",
		zap.Int("candidates", len(records)),
		zap.Int("results", len(result.Records)),
	)
	return result, nil
}

// annotate computes distances concurrently; output order matches input order.
func (e *Executor) annotate(ctx context.Context, origin geo.Point, records []camp.Record) ([]camp.Record, error) {
	out := make([]camp.Record, len(records))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range records {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := records[i].Clone()
			if r.Location.HasCoordinates() {
				d := e.distance(origin, geo.Point{Lat: *r.Location.Latitude, Lng: *r.Location.Longitude})
				r.DistanceMiles = &d
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// withinRadius keeps records inside max miles. Records without coordinates cannot be placed
// and are dropped once a radius applies.
func withinRadius(records []camp.Record, max *float64) []camp.Record {
	if max == nil {
		return records
	}
	out := make([]camp.Record, 0, len(records))
	for _, r := range records {
		if r.DistanceMiles != nil && *r.DistanceMiles <= *max {
			out = append(out, r)
		}
	}
	return out
}
