package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/pkg/treatment"
)

// ProvenCaseRepository returns candidate reference designs. Implementations
// filter coarsely; ranking is the caller's job.
type ProvenCaseRepository interface {
	Find(ctx context.Context, sector string, flowRange domain.FlowRange, contaminants []string) ([]domain.ProvenCase, error)
}

// matches is the candidate predicate shared by every backend: the sector
// matches or the flow windows overlap, and at least one contaminant is in
// common when contaminants are given.
func matches(c domain.ProvenCase, sector string, flowRange domain.FlowRange, contaminants map[string]struct{}) bool {
	sectorMatch := strings.EqualFold(c.ApplicationType, sector)
	flowOverlap := c.FlowRange.Max >= flowRange.Min && c.FlowRange.Min <= flowRange.Max
	if !sectorMatch && !flowOverlap {
		return false
	}
	if len(contaminants) == 0 {
		return true
	}
	for _, p := range c.ContaminantProfile {
		if _, ok := contaminants[treatment.CanonicalParameter(p.Name)]; ok {
			return true
		}
	}
	return false
}

func canonicalSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[treatment.CanonicalParameter(n)] = struct{}{}
	}
	return set
}

type staticRepository struct {
	mu    sync.RWMutex
	cases []domain.ProvenCase
}

// NewStaticRepository serves a fixed, in-memory dataset.
func NewStaticRepository(cases []domain.ProvenCase) ProvenCaseRepository {
	copied := make([]domain.ProvenCase, len(cases))
	copy(copied, cases)
	sort.Slice(copied, func(i, j int) bool { return copied[i].ID < copied[j].ID })
	return &staticRepository{cases: copied}
}

func (repo *staticRepository) Find(ctx context.Context, sector string, flowRange domain.FlowRange, contaminants []string) ([]domain.ProvenCase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	set := canonicalSet(contaminants)
	var out []domain.ProvenCase
	for _, c := range repo.cases {
		if matches(c, sector, flowRange, set) {
			out = append(out, c)
		}
	}
	return out, nil
}

// RethinkRepository reads proven cases from a RethinkDB table.
type RethinkRepository struct {
	session r.QueryExecutor
	table   string
}

func NewRethinkRepository(session r.QueryExecutor, table string) *RethinkRepository {
	return &RethinkRepository{
		session: session,
		table:   table,
	}
}

// findQuery prefilters on the server. Sectors are compared lower-cased on both
// sides so the result matches the static backend.
func (repo *RethinkRepository) findQuery(sector string, flowRange domain.FlowRange) r.Term {
	return r.Table(repo.table).
		Filter(r.Row.Field("application_type").Downcase().Eq(strings.ToLower(sector)).
			Or(r.Row.Field("flow_range").Field("max_m3_day").Ge(flowRange.Min).
				And(r.Row.Field("flow_range").Field("min_m3_day").Le(flowRange.Max)))).
		OrderBy("id")
}

func (repo *RethinkRepository) Find(ctx context.Context, sector string, flowRange domain.FlowRange, contaminants []string) ([]domain.ProvenCase, error) {
	cursor, err := repo.findQuery(sector, flowRange).Run(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("failed to query proven cases: %w", err)
	}
	defer cursor.Close()

	var rows []domain.ProvenCase
	if err := cursor.All(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode proven cases: %w", err)
	}

	// re-apply the shared predicate for the contaminant overlap
	set := canonicalSet(contaminants)
	out := rows[:0]
	for _, c := range rows {
		if matches(c, sector, flowRange, set) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Seed upserts the given cases into the table.
func (repo *RethinkRepository) Seed(ctx context.Context, cases []domain.ProvenCase) error {
	if len(cases) == 0 {
		return nil
	}
	_, err := r.Table(repo.table).
		Insert(cases, r.InsertOpts{Conflict: "replace"}).
		RunWrite(repo.session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("failed to seed proven cases: %w", err)
	}
	return nil
}

// EnsureTable creates the database and table when missing.
func (repo *RethinkRepository) EnsureTable(ctx context.Context, dbName string) error {
	runOpts := r.RunOpts{Context: ctx}

	var dbList []string
	if err := readAll(r.DBList(), repo.session, runOpts, &dbList); err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}
	if !contains(dbList, dbName) {
		if _, err := r.DBCreate(dbName).RunWrite(repo.session, runOpts); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	var tableList []string
	if err := readAll(r.DB(dbName).TableList(), repo.session, runOpts, &tableList); err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	if contains(tableList, repo.table) {
		return nil
	}
	if _, err := r.DB(dbName).TableCreate(repo.table).RunWrite(repo.session, runOpts); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	_, err := r.DB(dbName).Table(repo.table).IndexCreate("application_type").RunWrite(repo.session, runOpts)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create index application_type: %w", err)
	}
	return nil
}

func readAll(term r.Term, session r.QueryExecutor, opts r.RunOpts, dest interface{}) error {
	cursor, err := term.Run(session, opts)
	if err != nil {
		return err
	}
	defer cursor.Close()
	return cursor.All(dest)
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
