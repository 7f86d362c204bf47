// Package jobs registers the built-in job definitions the coordinator
// service ships with, wiring the County Daily Report job against the
// streaming aggregation engine and the external file gateway contract.
// These are the concrete domain jobs this core is generic machinery for;
// an embedding deployment can register its own definitions the same way.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"coordinator/internal/aggregator"
	"coordinator/internal/externalgateway"
	"coordinator/internal/job"
)

var (
	errMissingCountyCode      = errors.New("county daily report: countyCode not set in execution context")
	errMissingAggregateOutput = errors.New("county daily report: aggregate step did not record a record count")
)

// syntheticReader stands in for externalgateway.Fetch when no gateway is
// configured, so the report job is runnable standalone.
type syntheticReader struct {
	remaining int64
	i         int64
}

func (r *syntheticReader) Next() (aggregator.Record, bool, error) {
	if r.i >= r.remaining {
		return aggregator.Record{}, false, nil
	}
	r.i++
	departments := []string{"payroll", "benefits", "recovery"}
	regions := []string{"north", "south", "central"}
	return aggregator.Record{
		Department:  departments[r.i%int64(len(departments))],
		Region:      regions[r.i%int64(len(regions))],
		Status:      "active",
		Salary:      1000 + float64(r.i%50)*12.5,
		HoursWorked: 8,
	}, true, nil
}

// gatewayCursorReader adapts an externalgateway.Cursor into the aggregator's
// RecordReader. Step bodies, not the core, know the concrete record shape a
// given system/resourceType pair yields.
type gatewayCursorReader struct {
	cursor externalgateway.Cursor
}

func (r *gatewayCursorReader) Next() (aggregator.Record, bool, error) {
	v, ok, err := r.cursor.Next()
	if err != nil || !ok {
		return aggregator.Record{}, ok, err
	}
	rec, ok := v.(aggregator.Record)
	if !ok {
		return aggregator.Record{}, true, nil
	}
	return rec, true, nil
}

// Register adds the coordinator's built-in job definitions to registry.
// gateway may be nil; the report job falls back to a synthetic record
// source so the service runs without an external system configured.
func Register(registry *job.Registry, aggEngine *aggregator.Engine, gateway externalgateway.Gateway, flushSize, aggregationDepth int) error {
	if err := registry.Register(paymentFileGenerationJob()); err != nil {
		return err
	}
	if err := registry.Register(warrantStatusUpdateJob(gateway)); err != nil {
		return err
	}
	if err := registry.Register(countyDailyReportJob(aggEngine, gateway, flushSize, aggregationDepth)); err != nil {
		return err
	}
	return nil
}

// paymentFileGenerationJob extracts, validates, and generates a payment
// file. Step bodies pass the generated reference forward through the
// execution context.
func paymentFileGenerationJob() *job.JobDefinition {
	return &job.JobDefinition{
		Name: "payment-file-generation",
		ParameterKeys: []job.ParameterKey{
			{Name: "countyCode", Type: job.TypeString, Identifying: true},
		},
		Steps: []job.StepDefinition{
			{Name: "extract", Body: func(ctx *job.ExecutionContext, params job.ParameterView, _ job.CancelToken) job.StepOutcome {
				county, _ := params.GetString("countyCode")
				ctx.SetString("countyCode", county)
				return job.FinishedWithCounts(1, 0, 0)
			}},
			{Name: "validate", Body: func(ctx *job.ExecutionContext, _ job.ParameterView, _ job.CancelToken) job.StepOutcome {
				if _, ok := ctx.GetString("countyCode"); !ok {
					return job.Failed(errMissingCountyCode)
				}
				return job.Finished()
			}},
			{Name: "generate", Body: func(ctx *job.ExecutionContext, _ job.ParameterView, _ job.CancelToken) job.StepOutcome {
				county, _ := ctx.GetString("countyCode")
				ctx.SetString("paymentFileReference", "paymentfile-"+county+"-"+time.Now().UTC().Format("20060102"))
				return job.FinishedWithCounts(0, 1, 0)
			}},
		},
	}
}

// warrantStatusUpdateJob fetches warrant status from the external system and
// applies the update. When no gateway is configured, both steps report
// PROCESSED rather than failing, since there is nothing to reconcile.
func warrantStatusUpdateJob(gateway externalgateway.Gateway) *job.JobDefinition {
	return &job.JobDefinition{
		Name: "warrant-status-update",
		Steps: []job.StepDefinition{
			{Name: "fetch", Body: func(ctx *job.ExecutionContext, _ job.ParameterView, _ job.CancelToken) job.StepOutcome {
				if gateway == nil {
					return job.ProcessedAlready()
				}
				available, err := gateway.IsAvailable("doj", "warrant")
				if err != nil {
					return job.Failed(err)
				}
				if !available {
					return job.ProcessedAlready()
				}
				ctx.SetBool("warrantSourceAvailable", true)
				return job.FinishedWithCounts(1, 0, 0)
			}},
			{Name: "update", Body: func(ctx *job.ExecutionContext, _ job.ParameterView, _ job.CancelToken) job.StepOutcome {
				available, _ := ctx.GetBool("warrantSourceAvailable")
				if !available {
					return job.ProcessedAlready()
				}
				return job.FinishedWithCounts(0, 1, 0)
			}},
		},
	}
}

// countyDailyReportJob streams county records through the aggregation
// engine and persists the flushed totals, the canonical example of wiring
// C4 into a real job body.
func countyDailyReportJob(aggEngine *aggregator.Engine, gateway externalgateway.Gateway, flushSize, aggregationDepth int) *job.JobDefinition {
	logger := slog.With("component", "jobs.county_daily_report")
	return &job.JobDefinition{
		Name: "county-daily-report",
		ParameterKeys: []job.ParameterKey{
			{Name: "recordCount", Type: job.TypeLong, Default: int64(500)},
		},
		Steps: []job.StepDefinition{
			{Name: "aggregate", Body: func(ctx *job.ExecutionContext, params job.ParameterView, _ job.CancelToken) job.StepOutcome {
				executionID, _ := ctx.GetLong("executionId")

				reader, err := countyReportReader(gateway, params)
				if err != nil {
					return job.Failed(err)
				}

				stats, err := aggEngine.Aggregate(context.Background(), executionID, reader, aggregationDepth, flushSize)
				if err != nil {
					return job.Failed(err)
				}

				ctx.SetLong("recordsRead", stats.RecordsRead)
				ctx.SetLong("parseErrors", stats.ParseErrors)
				logger.Info("county daily report aggregated", "executionId", executionID, "recordsRead", stats.RecordsRead, "parseErrors", stats.ParseErrors)
				return job.FinishedWithCounts(stats.RecordsRead, 0, stats.ParseErrors)
			}},
			{Name: "summarize", Body: func(ctx *job.ExecutionContext, _ job.ParameterView, _ job.CancelToken) job.StepOutcome {
				if _, ok := ctx.GetLong("recordsRead"); !ok {
					return job.Failed(errMissingAggregateOutput)
				}
				return job.Finished()
			}},
		},
	}
}

func countyReportReader(gateway externalgateway.Gateway, params job.ParameterView) (aggregator.RecordReader, error) {
	count, ok := params.GetLong("recordCount")
	if !ok {
		count = 500
	}

	if gateway == nil {
		return &syntheticReader{remaining: count}, nil
	}

	available, err := gateway.IsAvailable("county-records", "payroll")
	if err != nil {
		return nil, err
	}
	if !available {
		return &syntheticReader{remaining: count}, nil
	}

	cursor, err := gateway.Fetch("county-records", "payroll", "payrollRecord")
	if err != nil {
		return nil, err
	}
	return &gatewayCursorReader{cursor: cursor}, nil
}
