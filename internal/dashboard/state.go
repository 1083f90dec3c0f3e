package dashboard

import (
	"sort"
	"sync"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

// LinkState is the dashboard's in-memory view. It is single-writer by
// contract: only the coordinator (and full refetches) mutate it, so optimistic
// snapshots taken here can be restored exactly.
type LinkState struct {
	mu          sync.Mutex
	links       []smartrack.Link
	collections []smartrack.Collection
	selection   map[string]struct{}
}

func NewLinkState() *LinkState {
	return &LinkState{selection: map[string]struct{}{}}
}

func (s *LinkState) Links() []smartrack.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]smartrack.Link(nil), s.links...)
}

func (s *LinkState) SetLinks(links []smartrack.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append([]smartrack.Link(nil), links...)
}

func (s *LinkState) Collections() []smartrack.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]smartrack.Collection(nil), s.collections...)
}

func (s *LinkState) SetCollections(collections []smartrack.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = append([]smartrack.Collection(nil), collections...)
}

// Snapshot captures the current links for later restoration.
func (s *LinkState) Snapshot() []smartrack.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]smartrack.Link(nil), s.links...)
}

func (s *LinkState) Restore(snapshot []smartrack.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append([]smartrack.Link(nil), snapshot...)
}

func (s *LinkState) Link(id string) (smartrack.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, link := range s.links {
		if link.ID == id {
			return link, true
		}
	}
	return smartrack.Link{}, false
}

// MutateLink applies fn to the identified link and returns the result.
func (s *LinkState) MutateLink(id string, fn func(*smartrack.Link)) (smartrack.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.links {
		if s.links[i].ID == id {
			fn(&s.links[i])
			return s.links[i], true
		}
	}
	return smartrack.Link{}, false
}

func (s *LinkState) MutateLinks(ids []string, fn func(*smartrack.Link)) {
	wanted := map[string]struct{}{}
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.links {
		if _, ok := wanted[s.links[i].ID]; ok {
			fn(&s.links[i])
		}
	}
}

func (s *LinkState) RemoveLink(id string) (smartrack.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, link := range s.links {
		if link.ID == id {
			s.links = append(s.links[:i], s.links[i+1:]...)
			return link, true
		}
	}
	return smartrack.Link{}, false
}

func (s *LinkState) RemoveLinks(ids []string) {
	wanted := map[string]struct{}{}
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.links[:0]
	for _, link := range s.links {
		if _, ok := wanted[link.ID]; !ok {
			kept = append(kept, link)
		}
	}
	s.links = kept
}

// UpsertLink inserts or replaces by ID. Broadcast deliveries are
// at-least-once, so redelivery of the same link must be a no-op.
func (s *LinkState) UpsertLink(link smartrack.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.links {
		if s.links[i].ID == link.ID {
			s.links[i] = link
			return
		}
	}
	s.links = append([]smartrack.Link{link}, s.links...)
}

func (s *LinkState) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection[id] = struct{}{}
}

func (s *LinkState) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selection, id)
}

func (s *LinkState) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.selection))
	for id := range s.selection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *LinkState) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = map[string]struct{}{}
}
