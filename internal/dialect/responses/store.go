package responses

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// storeSize bounds the retrieval cache; old responses are evicted
// least-recently-used.
const storeSize = 256

// Store keeps completed responses for GET /v1/responses/{id} retrieval and
// previous_response_id validation. Process-lifetime only.
type Store struct {
	cache *lru.Cache[string, *Response]
}

func NewStore() *Store {
	// lru.New only fails on a non-positive size.
	cache, err := lru.New[string, *Response](storeSize)
	if err != nil {
		panic(err)
	}
	return &Store{cache: cache}
}

// Put stores a completed response under its id.
func (s *Store) Put(resp *Response) {
	if resp == nil || resp.ID == "" {
		return
	}
	s.cache.Add(resp.ID, resp)
}

// Get returns the stored response for id.
func (s *Store) Get(id string) (*Response, bool) {
	return s.cache.Get(id)
}

// Delete evicts id, reporting whether it was present.
func (s *Store) Delete(id string) bool {
	return s.cache.Remove(id)
}
