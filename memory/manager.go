package memory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/7hebel/drivecord-server/platform"
)

// BucketPrefix names bucket categories: "data_<index>".
const BucketPrefix = "data_"

// removedRingSize bounds the recently-deleted queue consumed by the
// gateway supervisor.
const removedRingSize = 10

// Manager owns all buckets of one drive. It places new chunks into the
// first bucket with capacity, spawns new data channels and buckets when
// full, walks and frees chunk chains, and rebuilds ledgers.
type Manager struct {
	p        platform.Platform
	serverID uint64

	// overwrites is applied to categories created for new buckets so
	// they stay hidden from regular members.
	overwrites []platform.Overwrite

	mu        sync.Mutex
	buckets   map[int]*Bucket
	order     []int // bucket indices, ascending
	byChannel map[uint64]*Bucket

	removedMu sync.Mutex
	removed   []uint64 // recently self-deleted message ids, newest last

	log *logrus.Entry
}

// InitManager discovers every data_<index> category of a server and loads
// its bucket. Bucket indices must form a contiguous range starting at 0;
// a gap is returned as an error, which fails the drive's load. It does
// not trigger the drive's panic response.
func InitManager(p platform.Platform, serverID uint64, overwrites []platform.Overwrite) (*Manager, error) {
	m := &Manager{
		p:          p,
		serverID:   serverID,
		overwrites: overwrites,
		buckets:    make(map[int]*Bucket),
		byChannel:  make(map[uint64]*Bucket),
		log:        logrus.WithField("server", serverID),
	}

	categories, err := p.Categories(serverID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}

	for _, category := range categories {
		name := strings.ToLower(category.Name)
		if !strings.HasPrefix(name, BucketPrefix) {
			continue
		}

		index, err := strconv.Atoi(strings.TrimPrefix(name, BucketPrefix))
		if err != nil {
			m.log.Errorf("non-numeric index on data bucket %q", category.Name)
			continue
		}

		bucket, err := InitBucket(p, serverID, category, index)
		if err != nil {
			return nil, err
		}
		m.buckets[index] = bucket
	}

	m.reindex()

	for i, index := range m.order {
		if i != index {
			return nil, fmt.Errorf("bucket indices are not contiguous (%d -> %d)", i, index)
		}
	}
	return m, nil
}

// reindex rebuilds the ordered index slice and the channel lookup map.
// Callers hold no locks during init; afterwards m.mu.
func (m *Manager) reindex() {
	m.order = m.order[:0]
	for index := range m.buckets {
		m.order = append(m.order, index)
	}
	sort.Ints(m.order)

	m.byChannel = make(map[uint64]*Bucket)
	for _, bucket := range m.buckets {
		for _, ch := range bucket.Channels() {
			m.byChannel[ch.ID] = bucket
		}
	}
}

// AllocChunk returns a placeholder message sized to hold a chunk body of
// the given length. Buckets are scanned in index order; when none
// accepts, a data channel is added to the bucket with the fewest
// channels, or a whole new bucket is created. ErrOutOfMemory is returned
// once both limits are exhausted.
func (m *Manager) AllocChunk(size int) (platform.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		for _, index := range m.order {
			msg, ok, err := m.buckets[index].Alloc(size)
			if err != nil {
				return platform.Message{}, err
			}
			if ok {
				return msg, nil
			}
		}

		if err := m.newDataChannel(); err != nil {
			m.log.Errorf("failed to allocate memory chunk of %db: %v", size, err)
			return platform.Message{}, err
		}
	}
}

// newDataChannel creates a data channel in the bucket with the fewest
// channels among those under the channel limit (the lowest index on a
// tie), or spawns a whole new bucket. Callers hold m.mu.
func (m *Manager) newDataChannel() error {
	index := -1
	for _, i := range m.order {
		count := len(m.buckets[i].Channels())
		if count >= MaxChannelsPerBucket {
			continue
		}
		if index < 0 || count < len(m.buckets[index].Channels()) {
			index = i
		}
	}

	if index >= 0 {
		bucket := m.buckets[index]
		count := len(bucket.Channels())

		ch, err := m.p.CreateChannel(m.serverID, bucket.Category.ID, strconv.Itoa(count))
		if err != nil {
			return fmt.Errorf("creating data channel %d in bucket %d: %w", count, index, err)
		}
		if err := bucket.attach(ch); err != nil {
			return err
		}
		m.byChannel[ch.ID] = bucket

		m.log.Infof("created data channel %d at bucket %d", count, index)
		return nil
	}

	if len(m.buckets) >= MaxBuckets {
		m.log.Error("absolute memory limit exceeded, cannot create new data channel")
		return ErrOutOfMemory
	}

	next := len(m.buckets)
	category, err := m.p.CreateCategory(m.serverID, fmt.Sprintf("%s%d", BucketPrefix, next), m.overwrites)
	if err != nil {
		return fmt.Errorf("creating bucket category %d: %w", next, err)
	}

	bucket, err := InitBucket(m.p, m.serverID, category, next)
	if err != nil {
		return err
	}
	m.buckets[next] = bucket
	m.reindex()

	m.log.Infof("created bucket %d (data channel needed)", next)
	return nil
}

// SeekAddr fetches the message a chunk address points at. A missing
// channel or message yields ErrInvalidAddress.
func (m *Manager) SeekAddr(addr Address) (platform.Message, error) {
	msg, err := m.p.FetchMessage(addr.ChannelID, addr.MessageID)
	if err != nil {
		m.log.Errorf("memory error: cannot fetch %s: %v", addr, err)
		return platform.Message{}, fmt.Errorf("%w (at %s)", ErrInvalidAddress, addr)
	}
	return msg, nil
}

// Trace walks a chunk chain from its head address and returns the chain's
// messages in order. Any hop that cannot be fetched or decoded fails the
// whole trace.
func (m *Manager) Trace(head Address) ([]platform.Message, error) {
	var trace []platform.Message

	addr := head
	for {
		msg, err := m.SeekAddr(addr)
		if err != nil {
			m.log.Errorf("broken memory trace at %s", addr)
			return nil, err
		}
		trace = append(trace, msg)

		chunk, err := DecodeChunk(msg.Content)
		if err != nil {
			m.log.Errorf("broken memory trace at %s: %v", addr, err)
			return nil, fmt.Errorf("%w (at %s)", ErrBrokenTrace, addr)
		}
		if chunk.End {
			return trace, nil
		}
		addr = chunk.Next
	}
}

// FindBucket maps a channel to its owning bucket, nil when the channel is
// not a data channel of this drive.
func (m *Manager) FindBucket(channelID uint64) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byChannel[channelID]
}

// FindBucketByIndex returns the bucket with the given index, nil when
// absent.
func (m *Manager) FindBucketByIndex(index int) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets[index]
}

// OwnsCategory reports whether a category backs one of the buckets.
func (m *Manager) OwnsCategory(categoryID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bucket := range m.buckets {
		if bucket.Category.ID == categoryID {
			return true
		}
	}
	return false
}

// OwnsChannel reports whether a channel belongs to any bucket, cache
// channels included.
func (m *Manager) OwnsChannel(channelID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bucket := range m.buckets {
		if bucket.HasChannel(channelID) {
			return true
		}
	}
	return false
}

// FreeChunk releases one chunk: the owning channel's ledger is reduced by
// the chunk's body length, the id is recorded in the recently-deleted
// queue, and the message is deleted.
func (m *Manager) FreeChunk(msg platform.Message) error {
	m.mu.Lock()
	bucket := m.byChannel[msg.ChannelID]
	m.mu.Unlock()

	m.RecordRemoved(msg.ID)

	if bucket == nil {
		m.log.Errorf("freed chunk %d lives outside every bucket", msg.ID)
	} else if err := bucket.Decrement(msg.ChannelID, BodyLength(msg.Content)); err != nil {
		return err
	}

	return m.p.DeleteMessage(msg.ChannelID, msg.ID)
}

// DiscardChunk deletes a chunk message without touching the ledger,
// recording the id in the recently-deleted queue. The write path uses
// it for trimmed tails after RemoveFromCache already released the whole
// chain's accounting.
func (m *Manager) DiscardChunk(msg platform.Message) error {
	m.RecordRemoved(msg.ID)
	return m.p.DeleteMessage(msg.ChannelID, msg.ID)
}

// WipeFile frees every chunk of the chain starting at head. A broken
// trace is logged and ignored: the remaining chunks are unreachable
// anyway once the file is detached.
func (m *Manager) WipeFile(head Address) {
	trace, err := m.Trace(head)
	if err != nil {
		m.log.Warnf("broken memory trace for wiped file at %s", head)
		return
	}

	for _, msg := range trace {
		if err := m.FreeChunk(msg); err != nil {
			m.log.Errorf("freeing chunk %d: %v", msg.ID, err)
		}
	}
}

// RemoveFromCache subtracts every chunk of a chain from its channel's
// ledger without touching the messages. Used by the write path before
// chunk bodies are rewritten.
func (m *Manager) RemoveFromCache(head Address) error {
	return m.adjustCache(head, (*Bucket).Decrement)
}

// CacheSizes re-adds every chunk of a chain to its channel's ledger.
// Used by the write path after the new bodies have been written.
func (m *Manager) CacheSizes(head Address) error {
	return m.adjustCache(head, (*Bucket).Increment)
}

func (m *Manager) adjustCache(head Address, apply func(*Bucket, uint64, int) error) error {
	trace, err := m.Trace(head)
	if err != nil {
		m.log.Errorf("failed to adjust ledger for chain at %s: %v", head, err)
		return err
	}

	for _, msg := range trace {
		m.mu.Lock()
		bucket := m.byChannel[msg.ChannelID]
		m.mu.Unlock()
		if bucket == nil {
			m.log.Errorf("chunk %d lives outside every bucket", msg.ID)
			continue
		}
		if err := apply(bucket, msg.ChannelID, BodyLength(msg.Content)); err != nil {
			return err
		}
	}
	return nil
}

// RecordRemoved notes a message id the drive itself removed, so the
// gateway supervisor can tell self-inflicted deletions from tampering.
// The queue is bounded; old entries fall off.
func (m *Manager) RecordRemoved(messageID uint64) {
	m.removedMu.Lock()
	defer m.removedMu.Unlock()

	m.removed = append(m.removed, messageID)
	if len(m.removed) > removedRingSize {
		m.removed = m.removed[len(m.removed)-removedRingSize:]
	}
}

// WasRecentlyRemoved reports whether the drive itself deleted the message
// recently.
func (m *Manager) WasRecentlyRemoved(messageID uint64) bool {
	m.removedMu.Lock()
	defer m.removedMu.Unlock()

	for _, id := range m.removed {
		if id == messageID {
			return true
		}
	}
	return false
}

// MemoryUsage reports the total bytes stored per bucket index.
func (m *Manager) MemoryUsage() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := make(map[int]int, len(m.buckets))
	for index, bucket := range m.buckets {
		usage[index] = bucket.MemoryUsage()
	}
	return usage
}

// RebuildAllCaches recomputes and persists every bucket's ledger from the
// backing medium. This is the recache maintenance operation.
func (m *Manager) RebuildAllCaches() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, index := range m.order {
		bucket := m.buckets[index]
		cache, err := bucket.RebuildCache()
		if err != nil {
			return err
		}
		if err := bucket.ResetCache(cache); err != nil {
			return err
		}
	}
	return nil
}

// Buckets returns the bucket indices in ascending order.
func (m *Manager) Buckets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.order...)
}
