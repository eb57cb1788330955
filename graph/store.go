package graph

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NodeRecord is the persisted form of a node.
type NodeRecord struct {
	ID       string `gorm:"primaryKey"`
	Name     string `gorm:"index"`
	Kind     string
	Synonyms string // pipe-separated
}

func (NodeRecord) TableName() string { return "graph_nodes" }

// EdgeRecord is the persisted form of an edge.
type EdgeRecord struct {
	RowID    uint   `gorm:"primaryKey;autoIncrement"`
	Source   string `gorm:"index"`
	Target   string `gorm:"index"`
	Relation string
	Weight   float64
	Dataset  string
	PMID     string
}

func (EdgeRecord) TableName() string { return "graph_edges" }

// Store persists graph snapshots in SQLite.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenStore opens (and migrates) the snapshot database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open graph snapshot: %w", err)
	}
	if err := db.AutoMigrate(&NodeRecord{}, &EdgeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate graph snapshot: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "graph_store"))}, nil
}

// Save replaces the snapshot contents with the given graph.
func (s *Store) Save(g *Graph) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&NodeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&EdgeRecord{}).Error; err != nil {
			return err
		}

		g.mu.RLock()
		defer g.mu.RUnlock()

		var nodes []NodeRecord
		for _, n := range g.nodes {
			nodes = append(nodes, NodeRecord{
				ID:       n.ID,
				Name:     n.Name,
				Kind:     string(n.Kind),
				Synonyms: strings.Join(n.Synonyms, "|"),
			})
		}
		if len(nodes) > 0 {
			if err := tx.CreateInBatches(nodes, 500).Error; err != nil {
				return err
			}
		}

		var edges []EdgeRecord
		for _, out := range g.out {
			for _, e := range out {
				edges = append(edges, EdgeRecord{
					Source:   e.Source,
					Target:   e.Target,
					Relation: string(e.Relation),
					Weight:   e.Weight,
					Dataset:  e.Provenance.Dataset,
					PMID:     e.Provenance.PMID,
				})
			}
		}
		if len(edges) > 0 {
			return tx.CreateInBatches(edges, 500).Error
		}
		return nil
	})
}

// Load reads the snapshot into a fresh graph.
func (s *Store) Load(g *Graph) error {
	var nodes []NodeRecord
	if err := s.db.Find(&nodes).Error; err != nil {
		return fmt.Errorf("load graph nodes: %w", err)
	}
	for _, rec := range nodes {
		var synonyms []string
		if rec.Synonyms != "" {
			synonyms = strings.Split(rec.Synonyms, "|")
		}
		g.AddNode(Node{
			ID:       rec.ID,
			Name:     rec.Name,
			Kind:     NodeKind(rec.Kind),
			Synonyms: synonyms,
		})
	}

	var edges []EdgeRecord
	if err := s.db.Find(&edges).Error; err != nil {
		return fmt.Errorf("load graph edges: %w", err)
	}
	for _, rec := range edges {
		err := g.AddEdge(Edge{
			Source:     rec.Source,
			Target:     rec.Target,
			Relation:   RelationType(rec.Relation),
			Weight:     rec.Weight,
			Provenance: Provenance{Dataset: rec.Dataset, PMID: rec.PMID},
		})
		if err != nil {
			s.logger.Warn("skipping dangling edge",
				zap.String("source", rec.Source),
				zap.String("target", rec.Target))
		}
	}

	s.logger.Info("graph snapshot loaded",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()))
	return nil
}

// LoadNodesTSV reads Hetionet-style node rows: id \t name \t kind, with
// optional pipe-separated synonyms in a fourth column. Lines starting with
// '#' and the header row are skipped.
func LoadNodesTSV(g *Graph, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		fields, skip := tsvFields(scanner.Text(), 3, "id")
		if skip {
			continue
		}
		n := Node{ID: fields[0], Name: fields[1], Kind: NodeKind(fields[2])}
		if len(fields) > 3 && fields[3] != "" {
			n.Synonyms = strings.Split(fields[3], "|")
		}
		g.AddNode(n)
		count++
	}
	return count, scanner.Err()
}

// LoadEdgesTSV reads edge rows: source \t relation \t target, with optional
// weight, dataset, and pmid columns. Edges referencing unknown nodes are
// counted as skipped, not errors.
func LoadEdgesTSV(g *Graph, r io.Reader) (loaded, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		fields, skip := tsvFields(scanner.Text(), 3, "source")
		if skip {
			continue
		}
		e := Edge{
			Source:   fields[0],
			Relation: RelationType(fields[1]),
			Target:   fields[2],
			Weight:   1,
		}
		if len(fields) > 3 && fields[3] != "" {
			if w, perr := strconv.ParseFloat(fields[3], 64); perr == nil {
				e.Weight = w
			}
		}
		if len(fields) > 4 {
			e.Provenance.Dataset = fields[4]
		}
		if len(fields) > 5 {
			e.Provenance.PMID = fields[5]
		}

		if aerr := g.AddEdge(e); aerr != nil {
			skipped++
			continue
		}
		loaded++
	}
	return loaded, skipped, scanner.Err()
}

// LoadTSVFiles loads node and edge TSV files into the graph.
func LoadTSVFiles(g *Graph, nodesPath, edgesPath string) error {
	nf, err := os.Open(nodesPath)
	if err != nil {
		return fmt.Errorf("open nodes tsv: %w", err)
	}
	defer nf.Close()
	if _, err := LoadNodesTSV(g, nf); err != nil {
		return fmt.Errorf("load nodes tsv: %w", err)
	}

	ef, err := os.Open(edgesPath)
	if err != nil {
		return fmt.Errorf("open edges tsv: %w", err)
	}
	defer ef.Close()
	if _, _, err := LoadEdgesTSV(g, ef); err != nil {
		return fmt.Errorf("load edges tsv: %w", err)
	}
	return nil
}

// tsvFields splits a TSV line, reporting whether it should be skipped
// (comment, blank, too few columns, or header starting with headerFirst).
func tsvFields(line string, minCols int, headerFirst string) ([]string, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, true
	}
	fields := strings.Split(line, "\t")
	if len(fields) < minCols {
		return nil, true
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if strings.EqualFold(fields[0], headerFirst) {
		return nil, true
	}
	return fields, false
}
