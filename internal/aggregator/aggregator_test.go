package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"coordinator/internal/store"
)

type sliceReader struct {
	records []Record
	errAt   map[int]struct{}
	i       int
	lastErr error
}

func newSliceReader(records []Record) *sliceReader {
	return &sliceReader{records: records, errAt: map[int]struct{}{}}
}

func (r *sliceReader) Next() (Record, bool, error) {
	if r.i >= len(r.records) {
		return Record{}, false, nil
	}
	idx := r.i
	rec := r.records[idx]
	r.i++
	if _, bad := r.errAt[idx]; bad {
		r.lastErr = errors.New("malformed record")
	} else {
		r.lastErr = nil
	}
	return rec, true, nil
}

func (r *sliceReader) ParseError() error { return r.lastErr }

var _ RecordReader = (*sliceReader)(nil)
var _ ParseErrorReader = (*sliceReader)(nil)

type fakeAggStore struct {
	mu     sync.Mutex
	rows   map[string]*store.AggregationRow // key: aggType|groupKey
	flushN int
}

func newFakeAggStore() *fakeAggStore {
	return &fakeAggStore{rows: make(map[string]*store.AggregationRow)}
}

func (s *fakeAggStore) UpsertBatch(ctx context.Context, executionID int64, deltas []store.AggregationDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushN++
	for _, d := range deltas {
		key := d.AggregationType + "|" + d.GroupKey
		row, ok := s.rows[key]
		if !ok {
			s.rows[key] = &store.AggregationRow{
				ExecutionID: executionID, AggregationType: d.AggregationType, GroupKey: d.GroupKey,
				RecordCount: d.Count, TotalSalary: d.TotalSalary, TotalHours: d.TotalHours, TotalBonus: d.TotalBonus,
				MinSalary: d.MinSalary, MaxSalary: d.MaxSalary,
			}
			continue
		}
		row.RecordCount += d.Count
		row.TotalSalary += d.TotalSalary
		row.TotalHours += d.TotalHours
		row.TotalBonus += d.TotalBonus
		if d.MinSalary < row.MinSalary {
			row.MinSalary = d.MinSalary
		}
		if d.MaxSalary > row.MaxSalary {
			row.MaxSalary = d.MaxSalary
		}
	}
	return nil
}

func (s *fakeAggStore) CountDistinctGroups(ctx context.Context, executionID int64, aggType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.AggregationType == aggType {
			n++
		}
	}
	return n, nil
}

func (s *fakeAggStore) TotalRecordCount(ctx context.Context, executionID int64, aggType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, row := range s.rows {
		if row.AggregationType == aggType {
			total += row.RecordCount
		}
	}
	return total, nil
}

func (s *fakeAggStore) DeleteByExecution(ctx context.Context, executionID int64) error { return nil }

var _ store.AggregationStore = (*fakeAggStore)(nil)

func TestAggregate_DepthOneMaintainsThreeFamilies(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	records := []Record{
		{Department: "eng", Region: "us", Status: "active", Salary: 100},
		{Department: "eng", Region: "eu", Status: "active", Salary: 200},
		{Department: "sales", Region: "us", Status: "inactive", Salary: 50},
	}

	stats, err := e.Aggregate(context.Background(), 1, newSliceReader(records), 1, 10)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if stats.RecordsRead != 3 {
		t.Errorf("RecordsRead = %d, want 3", stats.RecordsRead)
	}

	deptCount, _ := fs.CountDistinctGroups(context.Background(), 1, ByDepartment)
	if deptCount != 2 {
		t.Errorf("distinct departments = %d, want 2", deptCount)
	}
	regionCount, _ := fs.CountDistinctGroups(context.Background(), 1, ByRegion)
	if regionCount != 2 {
		t.Errorf("distinct regions = %d, want 2", regionCount)
	}

	if _, ok := fs.rows[ByDepartmentRegion+"|eng_us"]; ok {
		t.Error("depth 1 should not maintain BY_DEPARTMENT_REGION")
	}
}

func TestAggregate_DepthThreeAddsCompositeFamilies(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	records := []Record{
		{Department: "eng", Region: "us", Status: "active", Salary: 100},
		{Department: "eng", Region: "us", Status: "active", Salary: 300},
	}

	_, err := e.Aggregate(context.Background(), 1, newSliceReader(records), 3, 10)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	row, ok := fs.rows[ByDepartmentRegionStatus+"|eng_us_active"]
	if !ok {
		t.Fatal("expected a BY_DEPARTMENT_REGION_STATUS row for eng_us_active")
	}
	if row.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", row.RecordCount)
	}
	if row.TotalSalary != 400 {
		t.Errorf("TotalSalary = %v, want 400", row.TotalSalary)
	}
	if row.MinSalary != 100 || row.MaxSalary != 300 {
		t.Errorf("min/max = %v/%v, want 100/300", row.MinSalary, row.MaxSalary)
	}
}

func TestAggregate_FlushesAtFlushSizeAndAtEnd(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	records := make([]Record, 5)
	for i := range records {
		records[i] = Record{Department: "eng", Region: "us", Status: "active", Salary: 10}
	}

	_, err := e.Aggregate(context.Background(), 1, newSliceReader(records), 1, 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	// 5 records at flushSize=2: flushes after record 2, after record 4, and
	// a final flush for the trailing 1 record. 3 flush calls total.
	if fs.flushN != 3 {
		t.Errorf("flush calls = %d, want 3", fs.flushN)
	}

	row := fs.rows[ByDepartment+"|eng"]
	if row.RecordCount != 5 {
		t.Errorf("RecordCount = %d, want 5", row.RecordCount)
	}
}

func TestAggregate_ParseErrorsCountedNotBuffered(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	reader := newSliceReader([]Record{
		{Department: "eng", Region: "us", Status: "active", Salary: 100},
		{},
		{Department: "eng", Region: "us", Status: "active", Salary: 200},
	})
	reader.errAt[1] = struct{}{}

	stats, err := e.Aggregate(context.Background(), 1, reader, 1, 10)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
	if stats.RecordsRead != 2 {
		t.Errorf("RecordsRead = %d, want 2", stats.RecordsRead)
	}

	row := fs.rows[ByDepartment+"|eng"]
	if row.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2 (parse error not buffered)", row.RecordCount)
	}
}

func TestAggregate_MissingFieldsDefaultToUnknown(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	_, err := e.Aggregate(context.Background(), 1, newSliceReader([]Record{{Salary: 10}}), 1, 10)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if _, ok := fs.rows[ByDepartment+"|UNKNOWN"]; !ok {
		t.Error("expected missing department to default to UNKNOWN")
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	stats, err := e.Aggregate(context.Background(), 1, newSliceReader(nil), 1, 10)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if stats.RecordsRead != 0 {
		t.Errorf("RecordsRead = %d, want 0", stats.RecordsRead)
	}
	if fs.flushN != 0 {
		t.Errorf("expected no flush for empty input, got %d", fs.flushN)
	}
}

func TestAggregate_FlushSizeOne(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	records := []Record{
		{Department: "eng", Salary: 10},
		{Department: "eng", Salary: 20},
	}

	_, err := e.Aggregate(context.Background(), 1, newSliceReader(records), 1, 1)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if fs.flushN != 2 {
		t.Errorf("flush calls = %d, want 2", fs.flushN)
	}
}

func TestAggregate_RepeatedFlushesAreCommutativeAcrossRuns(t *testing.T) {
	t.Parallel()
	fs := newFakeAggStore()
	e := New(fs)

	batchA := []Record{{Department: "eng", Salary: 10}}
	batchB := []Record{{Department: "eng", Salary: 20}}

	if _, err := e.Aggregate(context.Background(), 1, newSliceReader(batchA), 1, 1); err != nil {
		t.Fatalf("Aggregate batchA: %v", err)
	}
	if _, err := e.Aggregate(context.Background(), 1, newSliceReader(batchB), 1, 1); err != nil {
		t.Fatalf("Aggregate batchB: %v", err)
	}

	row := fs.rows[ByDepartment+"|eng"]
	if row.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", row.RecordCount)
	}
	if row.TotalSalary != 30 {
		t.Errorf("TotalSalary = %v, want 30", row.TotalSalary)
	}
}
