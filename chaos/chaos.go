// Package chaos retargets the engine's fault-injection harness onto the
// event-sourcing hot path: concurrency conflicts and append-then-publish
// failures, rather than a generic service's database/network faults. An
// experiment states a hypothesis, asserts the system's steady state, injects
// a fault, observes behavior, rolls back, and validates the hypothesis held.
package chaos

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment defines one chaos engineering test.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
	BlastRadius float64 // 0.0 to 1.0, fraction of tenants/streams affected
}

// Metric defines a measurable system property sampled during an experiment.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action represents a fault injection or recovery step.
type Action struct {
	Type    string // concurrency_conflict, publish_failure, store_unavailable
	Target  string // aggregate type or bus name the fault targets
	Execute func(context.Context) error
}

// Assertion validates the experiment's final outcome against its hypothesis.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment's execution.
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments against the event-sourcing runtime.
type Engine struct {
	tracer      trace.Tracer
	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine() *Engine {
	return &Engine{
		tracer: otel.Tracer("libranexus/chaos"),
	}
}

// RegisterExperiment adds an experiment to the suite.
func (ce *Engine) RegisterExperiment(exp Experiment) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.experiments = append(ce.experiments, exp)
}

// Experiments returns the registered experiment suite.
func (ce *Engine) Experiments() []Experiment {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	out := make([]Experiment, len(ce.experiments))
	copy(out, ce.experiments)
	return out
}

// RunExperiment executes a single chaos experiment end to end.
func (ce *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := ce.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := ce.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.SteadyStateValid = false
		result.Violations = violations
		return result, errors.New("steady state invalid - aborting experiment")
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(), Error: err.Error(), Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	recoveryStart := time.Time{}
	systemRecovered := false

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

observe:
	for {
		select {
		case <-observationCtx.Done():
			break observe
		case <-ticker.C:
			for _, metric := range exp.SteadyState {
				value, err := metric.Query(ctx)
				if err != nil {
					result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
						Timestamp: time.Now(), Error: err.Error(), Component: metric.Name,
					})
					continue
				}

				result.Observations[metric.Name] = append(result.Observations[metric.Name],
					DataPoint{Timestamp: time.Now(), Value: value})

				if !ce.evaluateThreshold(value, metric.Threshold) {
					if recoveryStart.IsZero() {
						recoveryStart = time.Now()
					}
					result.Violations = append(result.Violations, MetricViolation{
						MetricName: metric.Name, Expected: metric.Threshold.Value,
						Actual: value, Timestamp: time.Now(),
					})
				} else if !recoveryStart.IsZero() && !systemRecovered {
					mttr := time.Since(recoveryStart)
					result.MTTR = &mttr
					systemRecovered = true
				}
			}
		}
	}

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.HypothesisHeld = ce.validateAssertions(exp.Validation, result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	ce.mu.Lock()
	ce.results = append(ce.results, *result)
	ce.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)

	return result, nil
}

func (ce *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name, Expected: metric.Threshold.Value,
				Actual: -1, Timestamp: time.Now(),
			})
			continue
		}
		if !ce.evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name, Expected: metric.Threshold.Value,
				Actual: value, Timestamp: time.Now(),
			})
		}
	}
	return len(violations) == 0, violations
}

func (ce *Engine) evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

func (ce *Engine) validateAssertions(assertions []Assertion, result *Result) bool {
	for _, assertion := range assertions {
		observations, exists := result.Observations[assertion.Metric]
		if !exists || len(observations) == 0 {
			return false
		}
		finalValue := observations[len(observations)-1].Value
		if !assertion.Condition(finalValue) {
			return false
		}
	}
	return true
}

// GameDay orchestrates a scripted sequence of chaos experiments, typically
// run on a schedule against a staging environment.
type GameDay struct {
	Name         string
	Scenarios    []Experiment
	Participants []string
}

func (ce *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay) error {
	ctx, span := ce.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", gameDay.Name)))
	defer span.End()

	log.Printf("chaos: starting game day %q with participants %v", gameDay.Name, gameDay.Participants)

	for i, scenario := range gameDay.Scenarios {
		log.Printf("chaos: experiment %d/%d: %s (%s)", i+1, len(gameDay.Scenarios), scenario.Name, scenario.Hypothesis)

		result, err := ce.RunExperiment(ctx, scenario)
		if err != nil {
			log.Printf("chaos: experiment %s failed: %v", scenario.Name, err)
			continue
		}
		ce.logResult(result)
	}

	return nil
}

func (ce *Engine) logResult(result *Result) {
	if result.HypothesisHeld {
		log.Printf("chaos: %s: hypothesis held", result.ExperimentName)
	} else {
		log.Printf("chaos: %s: hypothesis violated (%d violations)", result.ExperimentName, len(result.Violations))
	}
	for _, v := range result.Violations {
		log.Printf("chaos:   %s: expected %.2f, got %.2f", v.MetricName, v.Expected, v.Actual)
	}
	if result.MTTR != nil {
		log.Printf("chaos: %s: MTTR %s", result.ExperimentName, *result.MTTR)
	}
}
