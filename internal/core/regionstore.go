package core

import "sort"

// RegionStore owns the set of registered regions. It is private to the
// Controller; nothing else mutates it. Lookups are by id and by content
// hash so an identical re-upsert resolves to the existing region instead
// of installing a duplicate.
type RegionStore struct {
	regions map[string]*Region
	byHash  map[string]string // contentHash -> region id
	baseID  string
}

func newRegionStore() *RegionStore {
	return &RegionStore{
		regions: make(map[string]*Region),
		byHash:  make(map[string]string),
	}
}

// Get returns the region for id.
func (s *RegionStore) Get(id string) (*Region, bool) {
	r, ok := s.regions[id]
	return r, ok
}

// GetByHash returns the region whose content hash matches.
func (s *RegionStore) GetByHash(hash string) (*Region, bool) {
	id, ok := s.byHash[hash]
	if !ok {
		return nil, false
	}
	return s.regions[id], true
}

// Put installs a region. Installing a second base region is rejected with
// DuplicateBaseRegion; re-putting the base under its own id is allowed
// (geometry replacement keeps the lock).
func (s *RegionStore) Put(r *Region) error {
	if r.Kind == KindBase {
		if s.baseID != "" && s.baseID != r.ID {
			return errDuplicateBase(s.baseID, r.ID)
		}
		r.Locked = true
		s.baseID = r.ID
	}
	if old, ok := s.regions[r.ID]; ok {
		delete(s.byHash, old.ContentHash)
	}
	s.regions[r.ID] = r
	s.byHash[r.ContentHash] = r.ID
	return nil
}

// Remove deletes a region. Locked regions reject removal explicitly;
// silent failure here was the root of most drift in the system this
// registry replaced.
func (s *RegionStore) Remove(id string) (*Region, error) {
	r, ok := s.regions[id]
	if !ok {
		return nil, errRegionNotFound(id)
	}
	if r.Locked {
		return nil, errLockedRegion(id)
	}
	delete(s.regions, id)
	delete(s.byHash, r.ContentHash)
	return r, nil
}

// ListIDs returns all region ids, sorted for deterministic iteration.
func (s *RegionStore) ListIDs() []string {
	ids := make([]string, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BaseID returns the id of the locked base region, or "" if none is
// installed yet.
func (s *RegionStore) BaseID() string {
	return s.baseID
}

// Len returns the number of registered regions.
func (s *RegionStore) Len() int {
	return len(s.regions)
}
