package matcher

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
	"github.com/saturnino-fabrica-de-software/chamada/internal/embedding"
)

const (
	hnswMaxNeighbors  = 16
	defaultCandidates = 32
)

// index is an HNSW graph over every reference embedding. It is rebuilt from
// the source whenever the source version moves.
type index struct {
	metric embedding.Metric
	k      int

	mu      sync.Mutex
	graph   *hnsw.Graph[int]
	owners  []string // node key -> identity ID
	dim     int
	version uint64
	built   bool
}

func newIndex(metric embedding.Metric, k int) *index {
	if k <= 0 {
		k = defaultCandidates
	}
	return &index{metric: metric, k: k}
}

func (ix *index) rebuild(source Source) {
	version := source.Version()

	var (
		nodes  []hnsw.Node[int]
		owners []string
		dim    int
	)
	for identity := range source.AllActive() {
		for _, ref := range identity.Embeddings {
			if dim == 0 {
				dim = ref.Dim()
			}
			nodes = append(nodes, hnsw.MakeNode(len(owners), ref.Values()))
			owners = append(owners, identity.ID)
		}
	}

	// ef covers every node, so the layer 0 search visits the whole reachable graph.
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.EfSearch = max(ix.k, len(nodes))
	g.Distance = hnsw.CosineDistance
	if ix.metric == embedding.Euclidean {
		g.Distance = hnsw.EuclideanDistance
	}
	if len(nodes) > 0 {
		g.Add(nodes...)
	}

	ix.graph = g
	ix.owners = owners
	ix.dim = dim
	ix.version = version
	ix.built = true
}

// candidates returns the distinct identities owning the k nearest references.
// Identities revoked since the last rebuild are skipped by the lookup.
func (ix *index) candidates(source Source, probe embedding.Vector) ([]domain.Identity, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.built || ix.version != source.Version() {
		ix.rebuild(source)
	}

	if len(ix.owners) == 0 {
		return nil, nil
	}

	if probe.Dim() != ix.dim {
		return nil, domain.ErrDimensionMismatch.WithError(
			fmt.Errorf("%w: probe %d, index %d", embedding.ErrDimensionMismatch, probe.Dim(), ix.dim))
	}

	neighbors := ix.graph.Search(probe.Values(), ix.k)

	identities := make([]domain.Identity, 0, len(neighbors))
	seen := make(map[string]struct{}, len(neighbors))
	for _, n := range neighbors {
		id := ix.owners[n.Key]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		identity, err := source.Get(id)
		if err != nil {
			continue
		}
		identities = append(identities, identity)
	}

	return identities, nil
}
