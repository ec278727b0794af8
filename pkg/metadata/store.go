package metadata

import (
	"context"
	"sync"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/terminus-io/warden/pkg/panel"
	"github.com/terminus-io/warden/pkg/utils"
	"k8s.io/klog/v2"
)

const (
	serversListKey = "servers_list"

	DefaultRecordTTL    = 24 * time.Hour
	DefaultSnapshotTTL  = 5 * time.Minute
	DefaultFetchTimeout = 5 * time.Second
)

// ServerLister is the control-plane call the directory refills from.
type ServerLister interface {
	ListServers(ctx context.Context) ([]panel.Server, error)
}

// Directory maps volume ids to panel metadata and to the measurements taken in
// previous cycles. It owns two independent TTL caches: the raw server list and
// the per-volume records.
type Directory struct {
	lister ServerLister

	snapshotTTL  time.Duration
	recordTTL    time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	snapshot *cache.Cache[string, []panel.Server]
	records  *cache.Cache[string, *TenantRecord]

	// mu guards record contents and the refreshed flag.
	mu        sync.Mutex
	refreshed bool
}

// NewDirectory creates a directory whose cache janitors stop with ctx.
func NewDirectory(ctx context.Context, lister ServerLister, opts ...Option) *Directory {
	d := &Directory{
		lister:       lister,
		snapshotTTL:  DefaultSnapshotTTL,
		recordTTL:    DefaultRecordTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		snapshot:     cache.NewContext[string, []panel.Server](ctx),
		records:      cache.NewContext[string, *TenantRecord](ctx),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RefreshSnapshotIfStale refetches the server list when the cached one expired.
// On failure the cache is left as it was and the error is returned; callers keep
// working with the records they already have.
func (d *Directory) RefreshSnapshotIfStale(ctx context.Context) (bool, error) {
	if d.snapshotTTL > 0 {
		if _, ok := d.snapshot.Get(serversListKey); ok {
			return false, nil
		}
	}

	klog.InfoS("Fetching fresh servers list from panel")

	ctx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	defer cancel()

	servers, err := d.lister.ListServers(ctx)
	if err != nil {
		return false, err
	}

	if d.snapshotTTL > 0 {
		d.snapshot.Set(serversListKey, servers, cache.WithExpiration(d.snapshotTTL))
	} else {
		d.snapshot.Set(serversListKey, servers)
	}

	d.mu.Lock()
	d.refreshed = true
	d.mu.Unlock()

	klog.V(2).InfoS("Servers list cached", "count", len(servers), "ttl", d.snapshotTTL)
	return true, nil
}

// Snapshot returns the cached server list, if any.
func (d *Directory) Snapshot() ([]panel.Server, bool) {
	return d.snapshot.Get(serversListKey)
}

// Reconcile resolves volumes against the cached server list. Volumes that are
// already resolved are skipped unless the list was refreshed since the last
// reconcile. It returns the number of unresolved volumes.
func (d *Directory) Reconcile(volumeIDs []string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	refreshed := d.refreshed
	d.refreshed = false

	servers, haveSnapshot := d.snapshot.Get(serversListKey)
	byUUID := make(map[string]panel.Server, len(servers))
	for _, s := range servers {
		byUUID[s.UUID] = s
	}

	unresolved := 0
	for _, id := range volumeIDs {
		rec, exists := d.records.Get(id)
		if exists && rec.Resolved() && !refreshed {
			continue
		}

		server, ok := byUUID[id]
		if !ok {
			unresolved++
			if haveSnapshot {
				klog.InfoS("No matching server found for volume", "volume", id)
			}
			continue
		}

		if exists {
			applyServer(rec, server)
			continue
		}
		rec = &TenantRecord{VolumeID: id}
		applyServer(rec, server)
		d.setRecord(id, rec)
	}

	if !haveSnapshot && unresolved > 0 {
		klog.V(2).InfoS("No servers list available, volumes stay unresolved", "count", unresolved)
	}
	return unresolved
}

func applyServer(rec *TenantRecord, s panel.Server) {
	rec.InternalID = s.ID
	rec.Identifier = s.Identifier
	rec.DisplayName = s.Name
	rec.QuotaGB = utils.MiBToGiB(s.Limits.Disk)
}

func (d *Directory) setRecord(id string, rec *TenantRecord) {
	if d.recordTTL > 0 {
		d.records.Set(id, rec, cache.WithExpiration(d.recordTTL))
		return
	}
	d.records.Set(id, rec)
}

// Get returns a copy of the record for id, or a zero placeholder.
func (d *Directory) Get(id string) TenantRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records.Get(id); ok {
		return *rec
	}
	return TenantRecord{VolumeID: id}
}

// RecordMeasurement stores the size measured this cycle. Positive growth since
// the previous measurement is added to the cumulative drift; the very first
// measurement only sets the baseline.
func (d *Directory) RecordMeasurement(id string, sizeGB float64) TenantRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records.Get(id)
	if !ok {
		rec = &TenantRecord{VolumeID: id}
		d.setRecord(id, rec)
	}

	if rec.HasBaseline() && sizeGB > rec.LastMeasuredGB {
		rec.CumulativeDriftGB += sizeGB - rec.LastMeasuredGB
	}
	rec.LastMeasuredGB = sizeGB
	rec.LastMeasuredAt = d.now()

	return *rec
}

// ResetDrift clears the cumulative drift, called after a successful suspension.
func (d *Directory) ResetDrift(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records.Get(id); ok {
		rec.CumulativeDriftGB = 0
	}
}

// Records returns copies of all live records.
func (d *Directory) Records() []TenantRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := d.records.Keys()
	out := make([]TenantRecord, 0, len(keys))
	for _, k := range keys {
		if rec, ok := d.records.Get(k); ok {
			out = append(out, *rec)
		}
	}
	return out
}
