package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/llm"
	"github.com/BaSui01/medflow/rag"
	"github.com/BaSui01/medflow/testutil"
	"github.com/BaSui01/medflow/tools"
	"github.com/BaSui01/medflow/types"
)

const (
	diagnosisJSON  = `{"summary":"Poorly controlled type 2 diabetes.","conditions":[{"name":"Type 2 Diabetes","icd10":"E11.9","severity":"high","confidence":0.92}],"risk_score":0.7}`
	prognosisJSON  = `{"risks":[{"name":"Diabetic nephropathy","horizon":"5yr","probability":0.35}]}`
	lifestyleJSON  = `{"diet":{"recommended":["low glycemic meals"],"avoid":["sugary drinks"]},"exercises":[{"name":"brisk walking","intensity":"moderate"}]}`
	medicationJSON = `{"medications":[{"name":"Metformin","dosage_note":"500mg twice daily"}],"interactions":[],"stop_medications":[]}`
)

type stubIngester struct {
	mu     sync.Mutex
	docIDs []string
	ns     []string
	err    error
}

func (s *stubIngester) IngestDocument(ctx context.Context, documentID, namespace, text string) (*rag.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.docIDs = append(s.docIDs, documentID)
	s.ns = append(s.ns, namespace)
	return &rag.IngestResult{DocumentID: documentID, Namespace: namespace, Chunks: 1, Indexed: 1}, nil
}

type providerFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

func (f providerFunc) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return f(ctx, req)
}
func (providerFunc) Name() string { return "func" }

func queueAllStages(p *testutil.ScriptedProvider) *testutil.ScriptedProvider {
	return p.QueueContent(diagnosisJSON).
		QueueContent(prognosisJSON).
		QueueContent(lifestyleJSON).
		QueueContent(medicationJSON)
}

func newTestOrchestrator(provider llm.Provider, router *tools.Router, ingester Ingester) *Orchestrator {
	if router == nil {
		router = tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	}
	return NewOrchestrator(
		config.PipelineConfig{StageTimeout: 5 * time.Second, ValidationRetries: 1},
		config.LLMConfig{Model: "test-model"},
		provider, router, ingester, nil, nil)
}

func TestRunPipeline_AllStagesSucceed(t *testing.T) {
	t.Parallel()

	provider := queueAllStages(testutil.NewScriptedProvider())
	ingester := &stubIngester{}
	o := newTestOrchestrator(provider, nil, ingester)

	var completed []types.StageName
	o.OnStage = func(r types.StageResult) { completed = append(completed, r.Stage) }

	run, err := o.RunPipeline(context.Background(), "p1", "Patient presents with polyuria and HbA1c 9.1.")
	require.NoError(t, err)
	require.Len(t, run.Stages, 4)
	assert.False(t, run.Cancelled)
	assert.Equal(t, types.StageOrder, completed)

	require.Len(t, ingester.ns, 1)
	assert.Equal(t, "patient_p1", ingester.ns[0])
	assert.Equal(t, run.DocumentRef, ingester.docIDs[0])

	for _, s := range run.Stages {
		assert.Equal(t, types.StageStatusOK, s.Status, string(s.Stage))
		assert.True(t, json.Valid(s.Output))
	}
}

func TestRunPipeline_PriorOutputsFlowForward(t *testing.T) {
	t.Parallel()

	provider := queueAllStages(testutil.NewScriptedProvider())
	o := newTestOrchestrator(provider, nil, nil)

	_, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 4)

	prognosisPrompt := reqs[1].Messages[1].Content
	assert.Contains(t, prognosisPrompt, "Type 2 Diabetes", "prognosis sees diagnosed conditions")

	medicationPrompt := reqs[3].Messages[1].Content
	assert.Contains(t, medicationPrompt, "Type 2 Diabetes", "medication sees diagnosed conditions")
	assert.Contains(t, medicationPrompt, "sugary drinks", "medication sees diet constraints")
}

func TestRunPipeline_ValidationRetryWithCorrectiveInstruction(t *testing.T) {
	t.Parallel()

	provider := testutil.NewScriptedProvider().
		QueueContent("I think the patient has diabetes."). // no JSON
		QueueContent(diagnosisJSON)
	queueStagesAfterDiagnosis(provider)
	o := newTestOrchestrator(provider, nil, nil)

	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	diag, ok := run.StageResultFor(types.StageDiagnosis)
	require.True(t, ok)
	assert.Equal(t, types.StageStatusPartial, diag.Status, "retried stage is partial")

	// second diagnosis request carries the corrective instruction
	reqs := provider.Requests()
	second := reqs[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "did not validate")
}

func queueStagesAfterDiagnosis(p *testutil.ScriptedProvider) {
	p.QueueContent(prognosisJSON).
		QueueContent(lifestyleJSON).
		QueueContent(medicationJSON)
}

func TestRunPipeline_SecondValidationFailureSubstitutesDefaults(t *testing.T) {
	t.Parallel()

	provider := testutil.NewScriptedProvider().
		QueueContent("not json").
		QueueContent("still not json")
	queueStagesAfterDiagnosis(provider)
	o := newTestOrchestrator(provider, nil, nil)

	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	diag, ok := run.StageResultFor(types.StageDiagnosis)
	require.True(t, ok)
	assert.Equal(t, types.StageStatusFailed, diag.Status)
	assert.Equal(t, "still not json", diag.RawOutput, "raw output preserved")
	assert.JSONEq(t, string(defaultPayload(types.StageDiagnosis)), string(diag.Output))

	// downstream stages still ran, with the degraded default flagged
	reqs := provider.Requests()
	prognosisPrompt := reqs[2].Messages[1].Content
	assert.Contains(t, prognosisPrompt, "unavailable", "failed dependency passed as explicit degraded default")
	require.Len(t, run.Stages, 4)
}

func TestRunPipeline_StageTimeoutIsFatalToStageOnly(t *testing.T) {
	t.Parallel()

	scripted := testutil.NewScriptedProvider()
	queueStagesAfterDiagnosis(scripted)

	first := true
	provider := providerFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if first {
			first = false
			<-ctx.Done() // diagnosis blows its completion deadline
			return nil, ctx.Err()
		}
		return scripted.Completion(ctx, req)
	})

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	o := NewOrchestrator(
		config.PipelineConfig{StageTimeout: 30 * time.Millisecond, ValidationRetries: 1},
		config.LLMConfig{Model: "test-model"},
		provider, router, nil, nil, nil)

	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)
	require.Len(t, run.Stages, 4)

	diag, _ := run.StageResultFor(types.StageDiagnosis)
	assert.Equal(t, types.StageStatusFailed, diag.Status)
	assert.Contains(t, diag.Err, "deadline")

	med, _ := run.StageResultFor(types.StageMedication)
	assert.Equal(t, types.StageStatusOK, med.Status, "later stages unaffected")
}

func TestRunPipeline_CancellationPreservesCompletedStages(t *testing.T) {
	t.Parallel()

	provider := queueAllStages(testutil.NewScriptedProvider())
	o := newTestOrchestrator(provider, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	o.OnStage = func(r types.StageResult) {
		if r.Stage == types.StagePrognosis {
			cancel()
		}
	}

	run, err := o.RunPipeline(ctx, "p1", "record")
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	require.Len(t, run.Stages, 2, "diagnosis and prognosis completed before cancellation")
	assert.Equal(t, types.StageDiagnosis, run.Stages[0].Stage)
	assert.Equal(t, types.StagePrognosis, run.Stages[1].Stage)
}

func TestRunPipeline_MidStageCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	scripted := testutil.NewScriptedProvider().QueueContent(diagnosisJSON)
	provider := providerFunc(func(c context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if strings.Contains(req.Messages[0].Content, "prognosis") {
			cancel()
			return nil, c.Err()
		}
		return scripted.Completion(c, req)
	})

	o := newTestOrchestrator(provider, nil, nil)
	run, err := o.RunPipeline(ctx, "p1", "record")
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	require.Len(t, run.Stages, 1, "in-flight stage not recorded")
	assert.Equal(t, types.StageDiagnosis, run.Stages[0].Stage)
}

func TestRunPipeline_ToolLoopFeedsResultsBack(t *testing.T) {
	t.Parallel()

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	require.NoError(t, router.Register(tools.Tool{
		Schema: llm.ToolSchema{Name: "vector_search", Parameters: json.RawMessage(`{"type":"object"}`)},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"items":[{"text":"HbA1c 9.1 indicates poor control"}]}`), nil
		},
	}))

	provider := testutil.NewScriptedProvider().
		QueueToolCall("call-1", "vector_search", `{"query":"HbA1c"}`).
		QueueContent(diagnosisJSON)
	queueStagesAfterDiagnosis(provider)

	o := newTestOrchestrator(provider, router, nil)
	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	diag, _ := run.StageResultFor(types.StageDiagnosis)
	assert.Equal(t, types.StageStatusOK, diag.Status)

	// the follow-up request carries the tool result message
	reqs := provider.Requests()
	followUp := reqs[1].Messages
	last := followUp[len(followUp)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Content, "HbA1c 9.1")

	// diagnosis advertises its allowed tools
	assert.NotEmpty(t, reqs[0].Tools)
}

func TestRunPipeline_DeniedToolDegradesStage(t *testing.T) {
	t.Parallel()

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	require.NoError(t, router.Register(tools.Tool{
		Schema: llm.ToolSchema{Name: "drugbank_lookup"},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}))

	// lifestyle may not call drugbank_lookup
	provider := testutil.NewScriptedProvider().
		QueueContent(diagnosisJSON).
		QueueContent(prognosisJSON).
		QueueToolCall("call-1", "drugbank_lookup", `{"name":"metformin"}`).
		QueueContent(lifestyleJSON).
		QueueContent(medicationJSON)

	o := newTestOrchestrator(provider, router, nil)
	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	life, _ := run.StageResultFor(types.StageLifestyle)
	assert.Equal(t, types.StageStatusPartial, life.Status, "denied tool degrades the stage")

	audit := router.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "denied", audit[0].Status)
	assert.Equal(t, types.StageLifestyle, audit[0].Stage)
}

func TestRunPipeline_ValidationRetriesFollowConfig(t *testing.T) {
	t.Parallel()

	provider := testutil.NewScriptedProvider().
		QueueContent("not json").
		QueueContent("still not json").
		QueueContent(diagnosisJSON)
	queueStagesAfterDiagnosis(provider)

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	o := NewOrchestrator(
		config.PipelineConfig{StageTimeout: 5 * time.Second, ValidationRetries: 2},
		config.LLMConfig{Model: "test-model"},
		provider, router, nil, nil, nil)

	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	diag, ok := run.StageResultFor(types.StageDiagnosis)
	require.True(t, ok)
	assert.Equal(t, types.StageStatusPartial, diag.Status, "second retry recovered the stage")
	require.Len(t, provider.Requests(), 6, "three diagnosis attempts plus three later stages")
}

func TestRunPipeline_ToolRoundCapFailsStage(t *testing.T) {
	t.Parallel()

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	require.NoError(t, router.Register(tools.Tool{
		Schema: llm.ToolSchema{Name: "vector_search", Parameters: json.RawMessage(`{"type":"object"}`)},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"items":[]}`), nil
		},
	}))

	// the model never answers, it just keeps asking for the same tool
	provider := testutil.NewScriptedProvider()
	for i := 0; i <= maxToolRounds; i++ {
		provider.QueueToolCall("call-n", "vector_search", `{"query":"again"}`)
	}
	queueStagesAfterDiagnosis(provider)

	o := newTestOrchestrator(provider, router, nil)
	run, err := o.RunPipeline(context.Background(), "p1", "record")
	require.NoError(t, err)

	diag, ok := run.StageResultFor(types.StageDiagnosis)
	require.True(t, ok)
	assert.Equal(t, types.StageStatusFailed, diag.Status)
	assert.Contains(t, diag.Err, "rounds")
	assert.JSONEq(t, string(defaultPayload(types.StageDiagnosis)), string(diag.Output))

	// the cap fails the stage outright, no validation retry is spent
	require.Len(t, provider.Requests(), maxToolRounds+1+3)
}

func TestRunPipeline_EvidenceFlowsThroughHybridRetrieval(t *testing.T) {
	t.Parallel()

	embedder := testutil.NewMockEmbedder(8)
	store := rag.NewInMemoryVectorStore(nil)
	chunker := rag.NewChunker(config.IngestConfig{ChunkTokens: 64, OverlapTokens: 8}, rag.EstimatorTokenizer{}, nil)
	indexer := rag.NewIndexer(config.EmbeddingConfig{}, chunker, embedder, store, nil, nil, nil)
	fuser := rag.NewFuser(rag.FuserConfig{
		Retrieval: config.RetrievalConfig{TopK: 5, BundleCap: 10, GraphCalibration: 0.9},
	}, embedder, store, nil, nil, nil)

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	require.NoError(t, router.Register(tools.NewVectorSearchTool(fuser, []string{types.NamespaceMedicalKB})))

	// the model searches without naming any namespace
	provider := testutil.NewScriptedProvider().
		QueueToolCall("call-1", "vector_search", `{"query":"chest pain troponin"}`).
		QueueContent(diagnosisJSON)
	queueStagesAfterDiagnosis(provider)

	o := newTestOrchestrator(provider, router, indexer)
	run, err := o.RunPipeline(context.Background(), "42",
		"Patient reports chest pain, troponin elevated at 0.8 ng/mL.")
	require.NoError(t, err)

	diag, ok := run.StageResultFor(types.StageDiagnosis)
	require.True(t, ok)
	assert.Equal(t, types.StageStatusOK, diag.Status)

	reqs := provider.Requests()
	followUp := reqs[1].Messages
	last := followUp[len(followUp)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "troponin elevated at 0.8",
		"the run's own record surfaces without an explicit namespace")
}

func TestRunPipeline_ForeignPatientNamespaceRefused(t *testing.T) {
	t.Parallel()

	embedder := testutil.NewMockEmbedder(8)
	store := rag.NewInMemoryVectorStore(nil)
	require.NoError(t, store.Upsert(context.Background(), []types.Chunk{{
		ID: "o:0-5", DocumentID: "o", Namespace: "patient_other",
		Text:   "Other patient is pregnant.",
		Vector: embedder.Vector("Other patient is pregnant."),
	}}))
	fuser := rag.NewFuser(rag.FuserConfig{
		Retrieval: config.RetrievalConfig{TopK: 5, BundleCap: 10, GraphCalibration: 0.9},
	}, embedder, store, nil, nil, nil)

	router := tools.NewRouter(tools.RouterConfig{AllowLists: DefaultAllowLists}, nil, nil)
	require.NoError(t, router.Register(tools.NewVectorSearchTool(fuser, []string{types.NamespaceMedicalKB})))

	provider := testutil.NewScriptedProvider().
		QueueToolCall("call-1", "vector_search", `{"query":"pregnancy","namespaces":["patient_other"]}`).
		QueueContent(diagnosisJSON)
	queueStagesAfterDiagnosis(provider)

	o := newTestOrchestrator(provider, router, nil)
	run, err := o.RunPipeline(context.Background(), "42", "record")
	require.NoError(t, err)

	diag, ok := run.StageResultFor(types.StageDiagnosis)
	require.True(t, ok)
	assert.Equal(t, types.StageStatusPartial, diag.Status, "refused tool call degrades the stage")

	reqs := provider.Requests()
	followUp := reqs[1].Messages
	last := followUp[len(followUp)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "may not read patient_other")
	assert.NotContains(t, last.Content, "pregnant", "foreign record never reaches the model")
}

func TestRunPipeline_IngestFailureAborts(t *testing.T) {
	t.Parallel()

	ingester := &stubIngester{err: types.NewError(types.ErrIngestion, "index unavailable")}
	o := newTestOrchestrator(testutil.NewScriptedProvider(), nil, ingester)

	_, err := o.RunPipeline(context.Background(), "p1", "record")
	require.Error(t, err)
	assert.Equal(t, types.ErrIngestion, types.CodeOf(err))
}
