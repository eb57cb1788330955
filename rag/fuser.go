package rag

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/graph"
	"github.com/BaSui01/medflow/internal/metrics"
	"github.com/BaSui01/medflow/llm/embedding"
	"github.com/BaSui01/medflow/types"
)

// GraphSource is the knowledge graph face the fuser needs.
type GraphSource interface {
	Search(ctx context.Context, terms []string, maxHops int) ([]graph.Path, error)
}

// Calibrator maps a source-native score onto [0, 1].
type Calibrator func(kind types.ProvenanceKind, raw float64) float64

// FuserConfig bundles the fuser's knobs.
type FuserConfig struct {
	Retrieval     config.RetrievalConfig
	VectorTimeout time.Duration
	GraphTimeout  time.Duration
	GraphMaxHops  int
}

// Fuser runs hybrid retrieval: vector and graph sources queried in
// parallel, scores calibrated, results deduplicated and capped. A failed
// source degrades the bundle instead of failing the retrieval.
type Fuser struct {
	cfg      FuserConfig
	embedder embedding.Provider
	store    VectorStore
	graph    GraphSource
	metrics  *metrics.Collector
	logger   *zap.Logger

	// Calibrator overrides DefaultCalibrator when set.
	Calibrator Calibrator
}

// NewFuser creates a fuser. graph source and collector may be nil.
func NewFuser(
	cfg FuserConfig,
	embedder embedding.Provider,
	store VectorStore,
	graphSource GraphSource,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Fuser {
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.BundleCap <= 0 {
		cfg.Retrieval.BundleCap = 20
	}
	if cfg.Retrieval.GraphCalibration <= 0 || cfg.Retrieval.GraphCalibration > 1 {
		cfg.Retrieval.GraphCalibration = 0.9
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = 15 * time.Second
	}
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fuser{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		graph:    graphSource,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "fuser")),
	}
}

// DefaultCalibrator maps cosine similarity from [-1, 1] onto [0, 1] and
// scales graph path confidence by the configured calibration factor.
func (f *Fuser) DefaultCalibrator(kind types.ProvenanceKind, raw float64) float64 {
	var score float64
	switch kind {
	case types.ProvenanceVector:
		score = (raw + 1) / 2
	case types.ProvenanceGraph:
		score = raw * f.cfg.Retrieval.GraphCalibration
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Retrieve builds an evidence bundle for the query. namespaces may contain
// at most one patient partition; two different patients in one retrieval is
// an error, never silently served. When the context carries a patient
// scope, any other patient's partition is refused outright. seedTerms feed
// graph entity resolution and default to the query itself.
func (f *Fuser) Retrieve(ctx context.Context, query string, namespaces []string, seedTerms []string) (*types.EvidenceBundle, error) {
	scopedNS := ""
	if patientID, ok := types.PatientScope(ctx); ok {
		scopedNS = types.PatientNamespace(patientID)
	}

	patients := 0
	for _, ns := range namespaces {
		if !types.IsPatientNamespace(ns) {
			continue
		}
		patients++
		if scopedNS != "" && ns != scopedNS {
			return nil, types.NewError(types.ErrRetrieval,
				"retrieval scoped to "+scopedNS+" may not read "+ns)
		}
	}
	if patients > 1 {
		return nil, types.NewError(types.ErrRetrieval, "retrieval may target at most one patient namespace")
	}

	if len(seedTerms) == 0 {
		seedTerms = []string{query}
	}

	calibrate := f.Calibrator
	if calibrate == nil {
		calibrate = f.DefaultCalibrator
	}

	var (
		vectorHits []VectorHit
		graphPaths []graph.Path
		vectorErr  error
		graphErr   error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vctx, cancel := context.WithTimeout(gctx, f.cfg.VectorTimeout)
		defer cancel()

		began := time.Now()
		vectorErr = func() error {
			vec, err := f.embedder.EmbedQuery(vctx, query)
			if err != nil {
				return err
			}
			vectorHits, err = f.store.Query(vctx, vec, namespaces, f.cfg.Retrieval.TopK)
			return err
		}()
		f.recordRetrieval("vector", vectorErr, time.Since(began))
		return nil
	})

	g.Go(func() error {
		if f.graph == nil {
			return nil
		}
		gqctx, cancel := context.WithTimeout(gctx, f.cfg.GraphTimeout)
		defer cancel()

		began := time.Now()
		graphPaths, graphErr = f.graph.Search(gqctx, seedTerms, f.cfg.GraphMaxHops)
		f.recordRetrieval("graph", graphErr, time.Since(began))
		return nil
	})

	_ = g.Wait()

	if vectorErr != nil {
		f.logger.Warn("vector source failed, degrading", zap.Error(vectorErr))
	}
	if graphErr != nil {
		f.logger.Warn("graph source failed, degrading", zap.Error(graphErr))
	}

	bundle := &types.EvidenceBundle{
		Query:    query,
		Degraded: vectorErr != nil || graphErr != nil,
	}

	var items []types.EvidenceItem
	for _, hit := range vectorHits {
		items = append(items, types.EvidenceItem{
			Text:  hit.Chunk.Text,
			Score: calibrate(types.ProvenanceVector, hit.Score),
			Provenance: types.Provenance{
				Kind:   types.ProvenanceVector,
				Source: hit.Chunk.Namespace,
			},
		})
	}
	for _, p := range graphPaths {
		rendered := p.String()
		items = append(items, types.EvidenceItem{
			Text:  rendered,
			Score: calibrate(types.ProvenanceGraph, p.Confidence),
			Provenance: types.Provenance{
				Kind:   types.ProvenanceGraph,
				Source: rendered,
			},
		})
	}

	bundle.Items = f.fuse(items)
	if f.metrics != nil {
		f.metrics.RecordBundle(len(bundle.Items))
	}
	return bundle, nil
}

// fuse drops sub-threshold items, deduplicates by normalized text keeping
// the best score, sorts, and caps the bundle.
func (f *Fuser) fuse(items []types.EvidenceItem) []types.EvidenceItem {
	best := make(map[string]types.EvidenceItem)
	for _, it := range items {
		if it.Score < f.cfg.Retrieval.MinScore {
			continue
		}
		key := types.NormalizeEvidenceText(it.Text)
		if key == "" {
			continue
		}
		if prev, ok := best[key]; !ok || it.Score > prev.Score {
			best[key] = it
		}
	}

	fused := make([]types.EvidenceItem, 0, len(best))
	for _, it := range best {
		fused = append(fused, it)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].Provenance.Kind != fused[j].Provenance.Kind {
			return fused[i].Provenance.Kind == types.ProvenanceVector
		}
		return fused[i].Text < fused[j].Text
	})

	if len(fused) > f.cfg.Retrieval.BundleCap {
		fused = fused[:f.cfg.Retrieval.BundleCap]
	}
	return fused
}

func (f *Fuser) recordRetrieval(source string, err error, d time.Duration) {
	if f.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	f.metrics.RecordRetrieval(source, status, d)
}
