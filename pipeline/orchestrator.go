// Package pipeline runs the four-stage sequential reasoning pipeline:
// diagnosis, prognosis, lifestyle, medication. Each stage grounds its
// answer through the tool router and produces a validated typed payload;
// stage failures degrade to schema defaults instead of aborting the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/internal/metrics"
	"github.com/BaSui01/medflow/llm"
	"github.com/BaSui01/medflow/rag"
	"github.com/BaSui01/medflow/tools"
	"github.com/BaSui01/medflow/types"
)

const maxToolRounds = 6

// Ingester indexes a document into a namespace before the stages run.
type Ingester interface {
	IngestDocument(ctx context.Context, documentID, namespace, text string) (*rag.IngestResult, error)
}

var _ Ingester = (*rag.Indexer)(nil)

// Orchestrator drives a pipeline run. Stages execute strictly in order;
// each sees the typed outputs of the stages it depends on.
type Orchestrator struct {
	cfg      config.PipelineConfig
	llmCfg   config.LLMConfig
	provider llm.Provider
	router   *tools.Router
	ingester Ingester
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   oteltrace.Tracer

	// OnStage, when set, is called after each stage completes. Useful
	// for progress display; must not block.
	OnStage func(types.StageResult)
}

// NewOrchestrator wires the pipeline. ingester and collector may be nil.
func NewOrchestrator(
	cfg config.PipelineConfig,
	llmCfg config.LLMConfig,
	provider llm.Provider,
	router *tools.Router,
	ingester Ingester,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		llmCfg:   llmCfg,
		provider: provider,
		router:   router,
		ingester: ingester,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "pipeline")),
		tracer:   otel.Tracer("medflow/pipeline"),
	}
}

// RunPipeline ingests the document into the patient's namespace, runs all
// stages, and returns the completed run. A cancelled context preserves the
// stages that finished; only a total ingestion failure aborts the run.
func (o *Orchestrator) RunPipeline(ctx context.Context, patientID, documentText string) (*types.PipelineRun, error) {
	runID := uuid.NewString()
	docID := "doc-" + runID

	ctx = types.WithPatientScope(ctx, patientID)
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		oteltrace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("patient_id", patientID),
		))
	defer span.End()

	if o.ingester != nil {
		ns := types.PatientNamespace(patientID)
		result, err := o.ingester.IngestDocument(ctx, docID, ns, documentText)
		if err != nil {
			return nil, types.NewError(types.ErrIngestion, "ingest patient document").WithCause(err)
		}
		if result.Partial() {
			o.logger.Warn("patient document partially indexed",
				zap.String("run_id", runID),
				zap.Int("failed", result.Failed))
		}
	}

	run := &types.PipelineRun{
		RunID:       runID,
		PatientID:   patientID,
		DocumentRef: docID,
		StartedAt:   time.Now(),
	}
	o.logger.Info("pipeline run started",
		zap.String("run_id", runID),
		zap.String("patient_id", patientID))

	in := stageInput{PatientID: patientID, DocumentText: documentText}
	in.DiagnosisDegraded = true
	in.LifestyleDegraded = true

	for _, spec := range stageSpecs {
		if ctx.Err() != nil {
			run.Cancelled = true
			break
		}

		result, cancelled := o.runStage(ctx, run.RunID, spec, in)
		if cancelled {
			run.Cancelled = true
			break
		}
		run.Stages = append(run.Stages, result)

		if o.metrics != nil {
			o.metrics.RecordStage(string(spec.name), string(result.Status),
				result.CompletedAt.Sub(result.StartedAt))
		}
		if o.OnStage != nil {
			o.OnStage(result)
		}

		// feed typed outputs forward; a partial stage still produced a
		// valid payload, only a failed one degrades its dependents
		switch spec.name {
		case types.StageDiagnosis:
			in.DiagnosisDegraded = result.Status == types.StageStatusFailed
			if err := json.Unmarshal(result.Output, &in.Diagnosis); err != nil {
				in.DiagnosisDegraded = true
			}
		case types.StageLifestyle:
			in.LifestyleDegraded = result.Status == types.StageStatusFailed
			if err := json.Unmarshal(result.Output, &in.Lifestyle); err != nil {
				in.LifestyleDegraded = true
			}
		}
	}

	run.CompletedAt = time.Now()
	status := "completed"
	if run.Cancelled {
		status = "cancelled"
	}
	if o.metrics != nil {
		o.metrics.RecordRun(status)
	}
	o.logger.Info("pipeline run finished",
		zap.String("run_id", runID),
		zap.String("status", status),
		zap.Int("stages", len(run.Stages)))
	return run, nil
}

// runStage executes one stage under its completion deadline. The second
// return reports parent-context cancellation, which ends the run without
// recording the in-flight stage.
func (o *Orchestrator) runStage(ctx context.Context, runID string, spec stageSpec, in stageInput) (types.StageResult, bool) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	stageCtx, span := o.tracer.Start(stageCtx, "pipeline.stage",
		oteltrace.WithAttributes(attribute.String("stage", string(spec.name))))
	defer span.End()

	result := types.StageResult{
		Stage:     spec.name,
		StartedAt: time.Now(),
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: spec.system},
		{Role: llm.RoleUser, Content: spec.user(in)},
	}
	schemas := o.router.SchemasFor(spec.name)

	var (
		raw          string
		toolDegraded bool
		retries      int
	)

	for round := 0; ; round++ {
		resp, err := o.provider.Completion(stageCtx, &llm.ChatRequest{
			TraceID:     runID,
			Model:       o.llmCfg.Model,
			Messages:    messages,
			MaxTokens:   o.llmCfg.MaxTokens,
			Temperature: float32(o.llmCfg.Temperature),
			Tools:       schemas,
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, true
			}
			return o.failStage(result, raw, stageError(spec.name, stageCtx, err)), false
		}

		if calls := resp.FirstToolCalls(); len(calls) > 0 {
			if round >= maxToolRounds {
				return o.failStage(result, resp.FirstContent(), types.NewError(types.ErrValidation,
					fmt.Sprintf("stage %s kept requesting tools past %d rounds without answering", spec.name, maxToolRounds))), false
			}
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.FirstContent(),
				ToolCalls: calls,
			})
			for _, tr := range o.router.Execute(stageCtx, spec.name, calls) {
				if tr.Err != nil {
					toolDegraded = true
				}
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Name:       tr.Name,
					ToolCallID: tr.ToolCallID,
					Content:    tr.Content(),
				})
			}
			continue
		}

		raw = resp.FirstContent()
		payload, derr := spec.decode(raw)
		if derr == nil {
			result.Status = types.StageStatusOK
			if toolDegraded || retries > 0 {
				result.Status = types.StageStatusPartial
			}
			result.Output = payload
			result.CompletedAt = time.Now()
			return result, false
		}

		if retries >= o.cfg.ValidationRetries {
			return o.failStage(result, raw, derr), false
		}
		retries++
		o.logger.Warn("stage output failed validation, retrying",
			zap.String("run_id", runID),
			zap.String("stage", string(spec.name)),
			zap.Error(derr))
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(correctiveInstruction, derr.Error())},
		)
	}
}

// failStage finalizes a failed stage: schema defaults substituted, raw
// model output preserved.
func (o *Orchestrator) failStage(result types.StageResult, raw string, err error) types.StageResult {
	result.Status = types.StageStatusFailed
	result.Output = defaultPayload(result.Stage)
	result.RawOutput = raw
	result.Err = err.Error()
	result.CompletedAt = time.Now()
	o.logger.Error("stage failed",
		zap.String("stage", string(result.Stage)),
		zap.Error(err))
	return result
}

// stageError maps a completion failure onto the stage's error taxonomy.
// A blown stage deadline is a timeout; everything else passes through.
func stageError(stage types.StageName, stageCtx context.Context, err error) error {
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout,
			fmt.Sprintf("stage %s exceeded its completion deadline", stage)).WithCause(err)
	}
	return err
}
