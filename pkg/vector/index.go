// Package vector maintains an HNSW index over chunk embeddings.
//
// Chunks are addressed by string IDs ("<documentID>:<ordinal>"). The HNSW
// graph itself keys on uint32, so the index keeps a bidirectional mapping
// and tombstones removed keys (the graph has no hard delete).
package vector

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	"github.com/hack-pad/hackpadfs"
	kvector "github.com/kshard/vector"
)

// Index manages the HNSW graph, the chunk-ID mapping and persistence.
type Index struct {
	graph *hnsw.HNSW[vector.VF32]
	fs    hackpadfs.FS
	path  string

	nextKey uint32
	keys    map[string]uint32
	ids     map[uint32]string
	dead    map[uint32]bool

	mu sync.RWMutex
}

// snapshot is the gob persistence format.
type snapshot struct {
	Nodes   hnsw.Nodes[vector.VF32]
	NextKey uint32
	Keys    map[string]uint32
	Dead    map[uint32]bool
}

// NewIndex opens the index at path, loading it if present.
func NewIndex(fs hackpadfs.FS, path string) (*Index, error) {
	idx := &Index{
		fs:      fs,
		path:    path,
		nextKey: 1,
		keys:    make(map[string]uint32),
		ids:     make(map[uint32]string),
		dead:    make(map[uint32]bool),
	}

	if err := idx.load(); err != nil {
		// No index on disk yet, start clean.
		idx.graph = hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
	}

	return idx, nil
}

// Add inserts an embedding under a chunk ID. Re-adding an existing ID
// tombstones the previous vector first.
func (x *Index) Add(chunkID string, vec []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		return fmt.Errorf("index not initialized")
	}

	if x.graph.Size() > 0 {
		dim := len(x.graph.Head().Vec)
		if len(vec) != dim {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
		}
	}

	if old, ok := x.keys[chunkID]; ok {
		x.dead[old] = true
		delete(x.ids, old)
	}

	key := x.nextKey
	x.nextKey++

	x.graph.Insert(vector.VF32{Key: key, Vec: vec})
	x.keys[chunkID] = key
	x.ids[key] = chunkID
	return nil
}

// Remove tombstones a chunk's vector. Unknown IDs are a no-op.
func (x *Index) Remove(chunkID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	key, ok := x.keys[chunkID]
	if !ok {
		return
	}
	x.dead[key] = true
	delete(x.keys, chunkID)
	delete(x.ids, key)
}

// Has reports whether a chunk ID is live in the index.
func (x *Index) Has(chunkID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.keys[chunkID]
	return ok
}

// Len returns the number of live chunk vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}

// Search returns the nearest k live chunk IDs.
func (x *Index) Search(vec []float32, k int) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, fmt.Errorf("index not initialized")
	}
	if x.graph.Size() == 0 {
		return nil, nil
	}

	dim := len(x.graph.Head().Vec)
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}

	// Over-fetch so tombstoned neighbors don't starve the result set.
	fetch := k + len(x.dead)
	ef := fetch * 2
	if ef < 100 {
		ef = 100
	}

	results := x.graph.Search(vector.VF32{Vec: vec}, fetch, ef)

	ids := make([]string, 0, k)
	for _, r := range results {
		id, ok := x.ids[r.Key]
		if !ok {
			continue
		}
		ids = append(ids, id)
		if len(ids) == k {
			break
		}
	}
	return ids, nil
}

// Save persists the graph and mapping to the FS.
func (x *Index) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		return nil
	}

	snap := snapshot{
		Nodes:   x.graph.Nodes(),
		NextKey: x.nextKey,
		Keys:    x.keys,
		Dead:    x.dead,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	if err := hackpadfs.WriteFullFile(x.fs, x.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}

	return nil
}

func (x *Index) load() error {
	content, err := hackpadfs.ReadFile(x.fs, x.path)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(content)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	x.graph = hnsw.FromNodes[vector.VF32](
		vector.SurfaceVF32(kvector.Cosine()),
		snap.Nodes,
	)
	x.nextKey = snap.NextKey
	x.keys = snap.Keys
	x.dead = snap.Dead
	x.ids = make(map[uint32]string, len(snap.Keys))
	for id, key := range snap.Keys {
		x.ids[key] = id
	}

	return nil
}
