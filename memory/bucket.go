package memory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/7hebel/drivecord-server/platform"
)

// CacheChannelName is the meta channel of a bucket category whose latest
// message holds the per-channel used-bytes ledger.
const CacheChannelName = "_cache"

// Bucket is one data category on the chat server: up to
// MaxChannelsPerBucket data channels named "0", "1", ... plus the _cache
// meta channel. It tracks how many content bytes each data channel holds
// and allocates chunk messages within its channels.
type Bucket struct {
	p        platform.Platform
	serverID uint64

	// Category is the backing category.
	Category platform.Category
	// Index is the numeric suffix of the category name "data_<index>".
	Index int

	channels []platform.Channel // data channels, ordered by numeric name
	cacheCh  platform.Channel
	cacheMsg uint64         // id of the ledger message on cacheCh
	cache    map[uint64]int // channel id -> used content bytes

	log *logrus.Entry
}

// InitBucket loads one bucket from its backing category, reconciling the
// medium with the bucket invariants: a missing data channel "0" is
// created, a missing or foreign cache ledger is rebuilt from channel
// history, and non-contiguous data channel names are a structural error.
func InitBucket(p platform.Platform, serverID uint64, category platform.Category, index int) (*Bucket, error) {
	log := logrus.WithFields(logrus.Fields{"server": serverID, "bucket": index})

	b := &Bucket{
		p:        p,
		serverID: serverID,
		Category: category,
		Index:    index,
		log:      log,
	}

	channels, err := p.ChannelsIn(serverID, category.ID)
	if err != nil {
		return nil, fmt.Errorf("listing bucket %d channels: %w", index, err)
	}

	numbered := make(map[int]platform.Channel)
	for _, ch := range channels {
		if ch.Name == CacheChannelName {
			b.cacheCh = ch
			continue
		}
		n, err := strconv.Atoi(ch.Name)
		if err != nil {
			log.Warnf("ignoring non-numeric data channel %q", ch.Name)
			continue
		}
		numbered[n] = ch
	}

	if len(numbered) == 0 {
		log.Info("bucket has no data channels, creating channel 0")
		ch, err := p.CreateChannel(serverID, category.ID, "0")
		if err != nil {
			return nil, fmt.Errorf("creating data channel 0: %w", err)
		}
		numbered[0] = ch
	}

	names := make([]int, 0, len(numbered))
	for n := range numbered {
		names = append(names, n)
	}
	sort.Ints(names)
	for i, n := range names {
		if i != n {
			return nil, fmt.Errorf("bucket %d data channels are not contiguous (%d -> %d)", index, i, n)
		}
		b.channels = append(b.channels, numbered[n])
	}

	if err := b.loadCache(); err != nil {
		return nil, err
	}
	return b, nil
}

// loadCache locates the cache ledger message, rebuilding and persisting a
// fresh ledger when the channel or the message is missing. A foreign
// latest message on the cache channel is deleted and the lookup retried.
func (b *Bucket) loadCache() error {
	if b.cacheCh.ID == 0 {
		b.log.Error("no _cache channel found, rebuilding ledger")
		cache, err := b.RebuildCache()
		if err != nil {
			return err
		}
		ch, err := b.p.CreateChannel(b.serverID, b.Category.ID, CacheChannelName)
		if err != nil {
			return fmt.Errorf("creating _cache channel: %w", err)
		}
		b.cacheCh = ch
		b.cache = cache
		return b.sendCache()
	}

	for {
		latest, err := b.p.RecentMessages(b.cacheCh.ID, 1)
		if err != nil {
			return fmt.Errorf("reading _cache channel: %w", err)
		}

		if len(latest) == 0 {
			cache, err := b.RebuildCache()
			if err != nil {
				return err
			}
			b.log.Info("cache ledger missing, sending rebuilt ledger")
			b.cache = cache
			return b.sendCache()
		}

		msg := latest[0]
		if msg.AuthorID != b.p.Me() {
			b.log.Warn("latest cache ledger message is foreign, deleting")
			if err := b.p.DeleteMessage(b.cacheCh.ID, msg.ID); err != nil {
				return fmt.Errorf("deleting foreign cache message: %w", err)
			}
			continue
		}

		cache, err := decodeCache(msg.Content)
		if err != nil {
			return fmt.Errorf("bucket %d cache ledger: %w", b.Index, err)
		}
		b.cacheMsg = msg.ID
		b.cache = cache
		return nil
	}
}

func decodeCache(content string) (map[uint64]int, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("decoding ledger: %w", err)
	}
	var byName map[string]int
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}

	cache := make(map[uint64]int, len(byName))
	for k, v := range byName {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger key %q: %w", k, err)
		}
		cache[id] = v
	}
	return cache, nil
}

func encodeCache(cache map[uint64]int) string {
	byName := make(map[string]int, len(cache))
	for k, v := range cache {
		byName[strconv.FormatUint(k, 10)] = v
	}
	raw, _ := json.Marshal(byName)
	return base64.StdEncoding.EncodeToString(raw)
}

// sendCache posts the ledger as a fresh message on the cache channel.
func (b *Bucket) sendCache() error {
	msg, err := b.p.SendMessage(b.cacheCh.ID, encodeCache(b.cache))
	if err != nil {
		return fmt.Errorf("sending cache ledger: %w", err)
	}
	b.cacheMsg = msg.ID
	return nil
}

// saveCache persists the ledger by editing the existing ledger message,
// falling back to sending a new one when the edit fails.
func (b *Bucket) saveCache() error {
	err := b.p.EditMessage(b.cacheCh.ID, b.cacheMsg, encodeCache(b.cache))
	if err == nil {
		return nil
	}
	b.log.Warnf("cache ledger edit failed, sending new message: %v", err)
	return b.sendCache()
}

// Alloc places a chunk of the given size into the first data channel with
// enough remaining capacity and returns the placeholder message. The
// ledger is intentionally not charged here; it is charged only once the
// real content has been written (see Manager.CacheSizes). ok is false
// when no channel of this bucket fits the chunk.
func (b *Bucket) Alloc(size int) (platform.Message, bool, error) {
	for _, ch := range b.channels {
		available := TotalChannelContentSize - b.cache[ch.ID]
		if size > available {
			continue
		}
		msg, err := b.p.SendMessage(ch.ID, placeholderContent)
		if err != nil {
			return platform.Message{}, false, fmt.Errorf("allocating chunk in channel %s: %w", ch.Name, err)
		}
		return msg, true, nil
	}
	return platform.Message{}, false, nil
}

// Increment charges size bytes against a data channel and persists the
// ledger.
func (b *Bucket) Increment(channelID uint64, size int) error {
	return b.Decrement(channelID, -size)
}

// Decrement releases size bytes from a data channel's ledger entry,
// clamping at zero, and persists the ledger. A channel the bucket does
// not know is logged and ignored.
func (b *Bucket) Decrement(channelID uint64, size int) error {
	if _, ok := b.cache[channelID]; !ok {
		b.log.Errorf("cannot adjust ledger of unknown channel %d by %db", channelID, size)
		return nil
	}

	b.cache[channelID] -= size
	if b.cache[channelID] < 0 {
		b.cache[channelID] = 0
	}
	return b.saveCache()
}

// RebuildCache recomputes the ledger from the backing medium: for every
// data channel it sums the body lengths of the newest MinMsgPerChannel
// messages authored by the drive. Foreign messages are skipped.
func (b *Bucket) RebuildCache() (map[uint64]int, error) {
	cache := make(map[uint64]int, len(b.channels))

	for _, ch := range b.channels {
		msgs, err := b.p.RecentMessages(ch.ID, MinMsgPerChannel)
		if err != nil {
			return nil, fmt.Errorf("scanning channel %s: %w", ch.Name, err)
		}

		size := 0
		for _, msg := range msgs {
			if msg.AuthorID != b.p.Me() {
				b.log.Warnf("junk message on data channel %s: %q", ch.Name, msg.Content)
				continue
			}
			size += BodyLength(msg.Content)
		}
		cache[ch.ID] = size
	}

	b.log.Info("rebuilt cache ledger")
	return cache, nil
}

// ResetCache replaces the in-memory ledger and persists it. Used by the
// recache maintenance operation after RebuildCache.
func (b *Bucket) ResetCache(cache map[uint64]int) error {
	b.cache = cache
	return b.saveCache()
}

// MemoryUsage returns the total content bytes stored in this bucket.
func (b *Bucket) MemoryUsage() int {
	total := 0
	for _, used := range b.cache {
		total += used
	}
	return total
}

// Channels returns the bucket's data channels in allocation order.
func (b *Bucket) Channels() []platform.Channel {
	return b.channels
}

// HasChannel reports whether a channel belongs to this bucket, either as
// a data channel or as the cache channel.
func (b *Bucket) HasChannel(channelID uint64) bool {
	if channelID == b.cacheCh.ID {
		return true
	}
	for _, ch := range b.channels {
		if ch.ID == channelID {
			return true
		}
	}
	return false
}

// attach registers a freshly created data channel with a zero ledger
// entry and persists the ledger.
func (b *Bucket) attach(ch platform.Channel) error {
	b.channels = append(b.channels, ch)
	b.cache[ch.ID] = 0
	return b.saveCache()
}
