package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chiampee/SmarTrack-sub004/internal/linksync"
	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

// Notifier surfaces interactive outcomes to the user. Background queue
// activity never goes through it.
type Notifier interface {
	Success(message string)
	Error(message string)
}

type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Error(string)   {}

type CoordinatorOptions struct {
	UserID   string
	State    *LinkState
	Client   linksync.Client
	Cache    smartrack.SnapshotCache
	Stats    *StatsCache
	Refetch  *CollectionRefetcher
	Notifier Notifier
	// OnSessionExpired stands in for the login redirect.
	OnSessionExpired func()
	Logger           zerolog.Logger
}

// Coordinator applies mutations optimistically: local state first, network
// second, exact snapshot restore plus one notification on failure. Failed
// interactive mutations are never retried automatically; the durable queue
// exists for background capture, not for edits.
type Coordinator struct {
	userID    string
	state     *LinkState
	client    linksync.Client
	cache     smartrack.SnapshotCache
	stats     *StatsCache
	refetch   *CollectionRefetcher
	notify    Notifier
	onExpired func()
	log       zerolog.Logger
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.State == nil || opts.Client == nil {
		return nil, smartrack.ErrInvalidInput
	}
	notify := opts.Notifier
	if notify == nil {
		notify = noopNotifier{}
	}
	c := &Coordinator{
		userID:    opts.UserID,
		state:     opts.State,
		client:    opts.Client,
		cache:     opts.Cache,
		stats:     opts.Stats,
		refetch:   opts.Refetch,
		notify:    notify,
		onExpired: opts.OnSessionExpired,
		log:       opts.Logger,
	}
	return c, nil
}

// Load paints from the snapshot cache first, then always fetches live. The
// live result overwrites both the UI state and the cache regardless of what
// the cache held; a rate-limited fetch keeps the cached paint instead of
// surfacing an error.
func (c *Coordinator) Load(ctx context.Context) error {
	painted := false
	if c.cache != nil {
		if links, ok, err := c.cache.Links(c.userID); err == nil && ok && len(links) > 0 {
			c.state.SetLinks(links)
			painted = true
		}
		if collections, ok, err := c.cache.Collections(c.userID); err == nil && ok {
			c.state.SetCollections(collections)
		}
	}

	links, err := c.client.ListLinks(ctx)
	if err != nil {
		if errors.Is(err, linksync.ErrRateLimited) && painted {
			c.log.Warn().Msg("link fetch rate limited, serving cached snapshot")
			return nil
		}
		if errors.Is(err, linksync.ErrUnauthorized) && c.onExpired != nil {
			c.onExpired()
		}
		return err
	}
	c.state.SetLinks(links)
	if c.cache != nil {
		if err := c.cache.SaveLinks(c.userID, links); err != nil {
			c.log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}

	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		if errors.Is(err, linksync.ErrRateLimited) {
			return nil
		}
		return err
	}
	c.state.SetCollections(collections)
	if c.cache != nil {
		if err := c.cache.SaveCollections(c.userID, collections); err != nil {
			c.log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	return nil
}

func (c *Coordinator) ToggleFavorite(ctx context.Context, id string) error {
	snapshot := c.state.Snapshot()
	updated, ok := c.state.MutateLink(id, func(l *smartrack.Link) {
		l.IsFavorite = !l.IsFavorite
	})
	if !ok {
		return smartrack.ErrLinkNotFound
	}
	patch := smartrack.LinkPatch{IsFavorite: &updated.IsFavorite}
	if _, err := c.client.UpdateLink(ctx, id, patch); err != nil {
		c.rollback(snapshot, err, "Could not update favorite")
		return err
	}
	c.afterMutation(false)
	return nil
}

func (c *Coordinator) ToggleArchive(ctx context.Context, id string) error {
	snapshot := c.state.Snapshot()
	updated, ok := c.state.MutateLink(id, func(l *smartrack.Link) {
		l.IsArchived = !l.IsArchived
	})
	if !ok {
		return smartrack.ErrLinkNotFound
	}
	patch := smartrack.LinkPatch{IsArchived: &updated.IsArchived}
	if _, err := c.client.UpdateLink(ctx, id, patch); err != nil {
		c.rollback(snapshot, err, "Could not update archive state")
		return err
	}
	c.afterMutation(false)
	return nil
}

func (c *Coordinator) EditLink(ctx context.Context, id string, patch smartrack.LinkPatch) error {
	if patch.IsZero() {
		return nil
	}
	snapshot := c.state.Snapshot()
	if _, ok := c.state.MutateLink(id, func(l *smartrack.Link) {
		patch.ApplyTo(l)
	}); !ok {
		return smartrack.ErrLinkNotFound
	}
	if _, err := c.client.UpdateLink(ctx, id, patch); err != nil {
		c.rollback(snapshot, err, "Could not save changes")
		return err
	}
	c.afterMutation(patch.CollectionID.Present())
	return nil
}

func (c *Coordinator) MoveToCollection(ctx context.Context, id string, collectionID *string) error {
	patch := smartrack.LinkPatch{}
	if collectionID != nil {
		patch.CollectionID = smartrack.Set(*collectionID)
	} else {
		patch.CollectionID = smartrack.Null[string]()
	}
	return c.EditLink(ctx, id, patch)
}

func (c *Coordinator) DeleteLink(ctx context.Context, id string) error {
	snapshot := c.state.Snapshot()
	if _, ok := c.state.RemoveLink(id); !ok {
		return smartrack.ErrLinkNotFound
	}
	c.persistLinks()
	if err := c.client.DeleteLink(ctx, id); err != nil {
		c.rollback(snapshot, err, "Could not delete link")
		c.persistLinks()
		return err
	}
	c.afterMutation(true)
	return nil
}

func (c *Coordinator) BulkArchive(ctx context.Context) error {
	return c.bulk(ctx, "Archived",
		func(ids []string) {
			c.state.MutateLinks(ids, func(l *smartrack.Link) { l.IsArchived = true })
		},
		func(ctx context.Context, id string) error {
			archived := true
			_, err := c.client.UpdateLink(ctx, id, smartrack.LinkPatch{IsArchived: &archived})
			return err
		},
		false)
}

func (c *Coordinator) BulkFavorite(ctx context.Context) error {
	return c.bulk(ctx, "Favorited",
		func(ids []string) {
			c.state.MutateLinks(ids, func(l *smartrack.Link) { l.IsFavorite = true })
		},
		func(ctx context.Context, id string) error {
			favorite := true
			_, err := c.client.UpdateLink(ctx, id, smartrack.LinkPatch{IsFavorite: &favorite})
			return err
		},
		false)
}

func (c *Coordinator) BulkDelete(ctx context.Context) error {
	return c.bulk(ctx, "Deleted",
		func(ids []string) { c.state.RemoveLinks(ids) },
		func(ctx context.Context, id string) error {
			return c.client.DeleteLink(ctx, id)
		},
		true)
}

// bulk runs the all-or-nothing batch contract: apply everything optimistically,
// fire all requests concurrently, and on any failure revert the entire batch
// rather than showing a partially applied list.
func (c *Coordinator) bulk(
	ctx context.Context,
	verb string,
	applyLocal func(ids []string),
	call func(ctx context.Context, id string) error,
	membership bool,
) error {
	ids := c.state.Selected()
	if len(ids) == 0 {
		return nil
	}
	snapshot := c.state.Snapshot()
	// Selection is not meaningful after an attempted bulk op either way.
	c.state.ClearSelection()
	applyLocal(ids)

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = call(ctx, id)
		}(i, id)
	}
	wg.Wait()

	failures := 0
	sessionExpired := false
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		if errors.Is(err, linksync.ErrUnauthorized) {
			sessionExpired = true
		}
	}

	if failures == 0 {
		c.afterMutation(membership)
		c.notify.Success(fmt.Sprintf("%s %d links", verb, len(ids)))
		return nil
	}

	c.state.Restore(snapshot)
	c.persistLinks()
	c.notify.Error(fmt.Sprintf("%d of %d failed", failures, len(ids)))
	if sessionExpired && c.onExpired != nil {
		c.onExpired()
	}
	return fmt.Errorf("bulk operation: %d of %d failed", failures, len(ids))
}

func (c *Coordinator) rollback(snapshot []smartrack.Link, err error, message string) {
	c.state.Restore(snapshot)
	c.notify.Error(message)
	if errors.Is(err, linksync.ErrUnauthorized) && c.onExpired != nil {
		c.onExpired()
	}
}

// afterMutation runs the success path shared by every mutation: one stats
// invalidation per batch, a cache mirror, and a debounced collection refetch
// when membership could have changed.
func (c *Coordinator) afterMutation(membership bool) {
	if c.stats != nil {
		c.stats.Invalidate()
	}
	c.persistLinks()
	if membership && c.refetch != nil {
		c.refetch.Schedule()
	}
}

func (c *Coordinator) persistLinks() {
	if c.cache == nil {
		return
	}
	if err := c.cache.SaveLinks(c.userID, c.state.Links()); err != nil {
		c.log.Warn().Err(err).Msg("snapshot cache write failed")
	}
}

// CreateCollection adds a collection through the backend and folds the
// server-assigned record into local state. LinkCount starts at whatever the
// server reports, never a local guess.
func (c *Coordinator) CreateCollection(ctx context.Context, name string) (smartrack.Collection, error) {
	collection, err := c.client.CreateCollection(ctx, name)
	if err != nil {
		c.notify.Error("Could not create collection")
		if errors.Is(err, linksync.ErrUnauthorized) && c.onExpired != nil {
			c.onExpired()
		}
		return smartrack.Collection{}, err
	}
	collections := append(c.state.Collections(), collection)
	c.state.SetCollections(collections)
	if c.cache != nil {
		if err := c.cache.SaveCollections(c.userID, collections); err != nil {
			c.log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	c.notify.Success(fmt.Sprintf("Created %s", collection.Name))
	return collection, nil
}

// RefreshCollections is the debounced refetch target: LinkCount is
// server-derived, so the list is re-fetched rather than adjusted locally.
func (c *Coordinator) RefreshCollections() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("collection refetch failed")
		return
	}
	c.state.SetCollections(collections)
	if c.cache != nil {
		if err := c.cache.SaveCollections(c.userID, collections); err != nil {
			c.log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
}
