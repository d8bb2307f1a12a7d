package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/caire/internal/core/model"
)

type storedTree struct {
	summary TreeSummary
	data    []byte
	seq     int
}

type storedCase struct {
	data     []byte
	position int
}

// MemoryStore keeps encoded copies, so callers never share state with it.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	seq       int
	trees     map[string]map[string]*storedTree // id -> version -> tree
	cases     map[string]map[string]storedCase  // tree id -> case id -> case
	suites    map[string][]byte
	suiteTree map[string]string // suite id -> tree id
	order     []string          // suite ids in save order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		trees:     map[string]map[string]*storedTree{},
		cases:     map[string]map[string]storedCase{},
		suites:    map[string][]byte{},
		suiteTree: map[string]string{},
	}
}

func (s *MemoryStore) SaveTree(ctx context.Context, tree *model.Tree) error {
	data, err := encodeTree(tree)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.trees[tree.ID]
	if !ok {
		versions = map[string]*storedTree{}
		s.trees[tree.ID] = versions
	}
	s.seq++
	versions[tree.Version] = &storedTree{
		summary: TreeSummary{ID: tree.ID, Name: tree.Name, Version: tree.Version, Domain: tree.Domain, SavedAt: s.now().UTC()},
		data:    data,
		seq:     s.seq,
	}
	return nil
}

func (s *MemoryStore) latest(id string) *storedTree {
	var best *storedTree
	for _, t := range s.trees[id] {
		if best == nil || t.seq > best.seq {
			best = t
		}
	}
	return best
}

func (s *MemoryStore) GetTree(ctx context.Context, id string) (*model.Tree, error) {
	s.mu.RLock()
	t := s.latest(id)
	s.mu.RUnlock()
	if t == nil {
		return nil, notFound("tree", id)
	}
	return decodeTree(t.data)
}

func (s *MemoryStore) GetTreeVersion(ctx context.Context, id, version string) (*model.Tree, error) {
	s.mu.RLock()
	t, ok := s.trees[id][version]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("tree", treeKey(id, version))
	}
	return decodeTree(t.data)
}

func (s *MemoryStore) ListTrees(ctx context.Context) ([]TreeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TreeSummary, 0, len(s.trees))
	for id := range s.trees {
		if t := s.latest(id); t != nil {
			out = append(out, t.summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteTree removes every version of the tree with its test cases and suites.
func (s *MemoryStore) DeleteTree(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[id]; !ok {
		return notFound("tree", id)
	}
	delete(s.trees, id)
	delete(s.cases, id)
	kept := s.order[:0]
	for _, sid := range s.order {
		if s.suiteTree[sid] == id {
			delete(s.suites, sid)
			delete(s.suiteTree, sid)
			continue
		}
		kept = append(kept, sid)
	}
	s.order = kept
	return nil
}

func (s *MemoryStore) SaveTestCases(ctx context.Context, treeID string, cases []model.TestCase) error {
	encoded := make([][]byte, len(cases))
	for i, tc := range cases {
		tc.TreeID = treeID
		data, err := encodeTestCase(tc)
		if err != nil {
			return err
		}
		encoded[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.cases[treeID]
	if !ok {
		bucket = map[string]storedCase{}
		s.cases[treeID] = bucket
	}
	for i, tc := range cases {
		pos := len(bucket)
		if existing, ok := bucket[tc.ID]; ok {
			pos = existing.position
		}
		bucket[tc.ID] = storedCase{data: encoded[i], position: pos}
	}
	return nil
}

// ListTestCases returns cases in first-saved order. An unknown tree has none.
func (s *MemoryStore) ListTestCases(ctx context.Context, treeID string) ([]model.TestCase, error) {
	s.mu.RLock()
	stored := make([]storedCase, 0, len(s.cases[treeID]))
	for _, c := range s.cases[treeID] {
		stored = append(stored, c)
	}
	s.mu.RUnlock()

	sort.Slice(stored, func(i, j int) bool { return stored[i].position < stored[j].position })
	out := make([]model.TestCase, 0, len(stored))
	for _, c := range stored {
		tc, err := decodeTestCase(c.data)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func (s *MemoryStore) SaveSuite(ctx context.Context, suite *model.TestSuite) error {
	data, err := encodeSuite(suite)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.suites[suite.ID]; !exists {
		s.order = append(s.order, suite.ID)
	}
	s.suites[suite.ID] = data
	s.suiteTree[suite.ID] = suite.TreeID
	return nil
}

func (s *MemoryStore) GetSuite(ctx context.Context, id string) (*model.TestSuite, error) {
	s.mu.RLock()
	data, ok := s.suites[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("suite", id)
	}
	return decodeSuite(data)
}

// LatestSuite returns the most recently saved suite for the tree.
func (s *MemoryStore) LatestSuite(ctx context.Context, treeID string) (*model.TestSuite, error) {
	s.mu.RLock()
	var data []byte
	for i := len(s.order) - 1; i >= 0; i-- {
		if sid := s.order[i]; s.suiteTree[sid] == treeID {
			data = s.suites[sid]
			break
		}
	}
	s.mu.RUnlock()
	if data == nil {
		return nil, notFound("suite for tree", treeID)
	}
	return decodeSuite(data)
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
