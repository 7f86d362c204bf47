// Package aggregator implements the Streaming Aggregation Engine (C4): a
// bounded-memory reduction of a record stream into per-group aggregates,
// flushed to the aggregation store in fixed-size batches.
package aggregator

import (
	"context"
	"log/slog"

	"coordinator/internal/store"
)

// Record is one input row. Missing fields default per spec: "UNKNOWN" for
// strings, 0.0 for numbers.
type Record struct {
	Department  string
	Region      string
	Status      string
	Salary      float64
	HoursWorked float64
	Bonus       float64
}

// RecordReader is a lazy, possibly streaming source of records. Next
// returns (zero Record, false, nil) at end of input, or a non-nil error for
// a read failure that is not a per-record parse error (those are reported
// as a parse-error Record via ParseError, not surfaced through err).
type RecordReader interface {
	Next() (Record, bool, error)
}

// ParseErrorReader is implemented by a RecordReader that distinguishes a
// malformed record from end of input: it reports the error without
// advancing past it, and the engine counts it without buffering it.
type ParseErrorReader interface {
	RecordReader
	ParseError() error
}

// Aggregation type names (spec §4.3 "Key families by depth").
const (
	ByDepartment             = "BY_DEPARTMENT"
	ByRegion                 = "BY_REGION"
	ByStatus                 = "BY_STATUS"
	ByDepartmentRegion       = "BY_DEPARTMENT_REGION"
	ByDepartmentRegionStatus = "BY_DEPARTMENT_REGION_STATUS"
)

// Stats summarizes one aggregate() invocation.
type Stats struct {
	RecordsRead int64
	ParseErrors int64
	GroupCounts map[string]int64 // aggregation type -> distinct groups stored for the execution
}

type groupBuffer struct {
	count       int64
	totalSalary float64
	totalHours  float64
	totalBonus  float64
	minSalary   float64
	maxSalary   float64
	seen        bool
}

func (b *groupBuffer) observe(r Record) {
	if !b.seen {
		b.minSalary = r.Salary
		b.maxSalary = r.Salary
		b.seen = true
	} else {
		if r.Salary < b.minSalary {
			b.minSalary = r.Salary
		}
		if r.Salary > b.maxSalary {
			b.maxSalary = r.Salary
		}
	}
	b.count++
	b.totalSalary += r.Salary
	b.totalHours += r.HoursWorked
	b.totalBonus += r.Bonus
}

func (b *groupBuffer) delta(aggType, groupKey string) store.AggregationDelta {
	return store.AggregationDelta{
		AggregationType: aggType,
		GroupKey:        groupKey,
		Count:           b.count,
		TotalSalary:     b.totalSalary,
		TotalHours:      b.totalHours,
		TotalBonus:      b.totalBonus,
		MinSalary:       b.minSalary,
		MaxSalary:       b.maxSalary,
	}
}

// Engine runs aggregate() against an AggregationStore.
type Engine struct {
	store  store.AggregationStore
	logger *slog.Logger
}

// New builds an aggregation engine over the given store.
func New(s store.AggregationStore) *Engine {
	return &Engine{store: s, logger: slog.With("component", "aggregator")}
}

// Aggregate consumes input to completion, maintaining per-group buffers
// keyed by the aggregation types enabled at the given depth, flushing every
// flushSize records and once more after input ends (spec §4.3).
func (e *Engine) Aggregate(ctx context.Context, executionID int64, input RecordReader, aggregationDepth, flushSize int) (*Stats, error) {
	if flushSize < 1 {
		flushSize = 1
	}
	aggTypes := aggregationTypesForDepth(aggregationDepth)

	buffers := make(map[string]map[string]*groupBuffer, len(aggTypes))
	for _, t := range aggTypes {
		buffers[t] = make(map[string]*groupBuffer)
	}

	stats := &Stats{GroupCounts: make(map[string]int64, len(aggTypes))}
	recordsSinceFlush := 0

	for {
		record, ok, err := input.Next()
		if err != nil {
			return stats, err
		}
		if !ok {
			break
		}

		recordsSinceFlush++

		if perr, isParseErrReader := input.(ParseErrorReader); isParseErrReader && perr.ParseError() != nil {
			stats.ParseErrors++
		} else {
			stats.RecordsRead++
			normalized := normalize(record)
			for _, t := range aggTypes {
				key := groupKeyFor(t, normalized)
				buf, ok := buffers[t][key]
				if !ok {
					buf = &groupBuffer{}
					buffers[t][key] = buf
				}
				buf.observe(normalized)
			}
		}

		if recordsSinceFlush == flushSize {
			if err := e.flush(ctx, executionID, buffers, stats); err != nil {
				return stats, err
			}
			recordsSinceFlush = 0
		}
	}

	if recordsSinceFlush > 0 {
		if err := e.flush(ctx, executionID, buffers, stats); err != nil {
			return stats, err
		}
	}

	for _, t := range aggTypes {
		n, err := e.store.CountDistinctGroups(ctx, executionID, t)
		if err != nil {
			return stats, err
		}
		stats.GroupCounts[t] = n
	}

	return stats, nil
}

func (e *Engine) flush(ctx context.Context, executionID int64, buffers map[string]map[string]*groupBuffer, stats *Stats) error {
	var deltas []store.AggregationDelta
	for aggType, groups := range buffers {
		for key, buf := range groups {
			deltas = append(deltas, buf.delta(aggType, key))
		}
	}
	if len(deltas) == 0 {
		return nil
	}

	if err := e.store.UpsertBatch(ctx, executionID, deltas); err != nil {
		return err
	}

	for _, groups := range buffers {
		for key := range groups {
			delete(groups, key)
		}
	}
	e.logger.DebugContext(ctx, "flushed aggregation buffers", "executionId", executionID, "groups", len(deltas))
	return nil
}

func normalize(r Record) Record {
	if r.Department == "" {
		r.Department = "UNKNOWN"
	}
	if r.Region == "" {
		r.Region = "UNKNOWN"
	}
	if r.Status == "" {
		r.Status = "UNKNOWN"
	}
	return r
}

func groupKeyFor(aggType string, r Record) string {
	switch aggType {
	case ByDepartment:
		return r.Department
	case ByRegion:
		return r.Region
	case ByStatus:
		return r.Status
	case ByDepartmentRegion:
		return r.Department + "_" + r.Region
	case ByDepartmentRegionStatus:
		return r.Department + "_" + r.Region + "_" + r.Status
	default:
		return ""
	}
}

func aggregationTypesForDepth(depth int) []string {
	types := []string{ByDepartment, ByRegion, ByStatus}
	if depth >= 2 {
		types = append(types, ByDepartmentRegion)
	}
	if depth >= 3 {
		types = append(types, ByDepartmentRegionStatus)
	}
	return types
}
