package memory_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/7hebel/drivecord-server/memory"
	"github.com/7hebel/drivecord-server/mockplatform"
	"github.com/7hebel/drivecord-server/platform"
)

// encodeLedger renders a ledger in its wire form, for planting cache
// messages directly.
func encodeLedger(cache map[uint64]int) string {
	byName := make(map[string]int, len(cache))
	for id, used := range cache {
		byName[strconv.FormatUint(id, 10)] = used
	}
	raw, _ := json.Marshal(byName)
	return base64.StdEncoding.EncodeToString(raw)
}

// newManagerFixture builds a server with one data_0 bucket holding an
// empty data channel 0.
func newManagerFixture(t *testing.T) (*mockplatform.Platform, *memory.Manager) {
	t.Helper()

	mock := mockplatform.New(mockplatform.WithServer(testServer, 42))
	category, err := mock.CreateCategory(testServer, "data_0", nil)
	if err != nil {
		t.Fatalf("creating category: %v", err)
	}
	mock.CreateChannel(testServer, category.ID, memory.CacheChannelName)
	mock.CreateChannel(testServer, category.ID, "0")

	m, err := memory.InitManager(mock, testServer, nil)
	if err != nil {
		t.Fatalf("InitManager failed: %v", err)
	}
	return mock, m
}

// fullLedger marks every listed channel as holding a full channel's
// worth of content.
func fullLedger(p *mockplatform.Platform, serverID uint64, categoryName string, channels []platform.Channel) {
	cacheCh, _ := p.FindChannel(serverID, categoryName, memory.CacheChannelName)
	full := make(map[uint64]int, len(channels))
	for _, ch := range channels {
		full[ch.ID] = memory.TotalChannelContentSize
	}
	p.InjectMessage(cacheCh.ID, mockplatform.BotID, encodeLedger(full))
}

func TestInitManagerRejectsBucketGap(t *testing.T) {
	p := mockplatform.New(mockplatform.WithServer(testServer, 42))
	for _, index := range []int{0, 2} {
		category, _ := p.CreateCategory(testServer, fmt.Sprintf("data_%d", index), nil)
		p.CreateChannel(testServer, category.ID, memory.CacheChannelName)
		p.CreateChannel(testServer, category.ID, "0")
	}

	if _, err := memory.InitManager(p, testServer, nil); err == nil {
		t.Fatal("expected error for non-contiguous bucket indices")
	}
}

func TestAllocChunkUsesExistingChannel(t *testing.T) {
	p, m := newManagerFixture(t)

	msg, err := m.AllocChunk(100)
	if err != nil {
		t.Fatalf("AllocChunk failed: %v", err)
	}

	ch, _ := p.FindChannel(testServer, "data_0", "0")
	if msg.ChannelID != ch.ID {
		t.Errorf("chunk placed in channel %d, want %d", msg.ChannelID, ch.ID)
	}
}

func TestAllocChunkGrowsNewChannel(t *testing.T) {
	p, m := newManagerFixture(t)
	ch0, _ := p.FindChannel(testServer, "data_0", "0")

	bucket := m.FindBucketByIndex(0)
	if bucket == nil {
		t.Fatal("bucket 0 not found")
	}
	if err := bucket.Increment(ch0.ID, memory.TotalChannelContentSize); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	msg, err := m.AllocChunk(100)
	if err != nil {
		t.Fatalf("AllocChunk failed: %v", err)
	}

	ch1, ok := p.FindChannel(testServer, "data_0", "1")
	if !ok {
		t.Fatal("data channel 1 was not created")
	}
	if msg.ChannelID != ch1.ID {
		t.Errorf("chunk placed in channel %d, want new channel %d", msg.ChannelID, ch1.ID)
	}
}

func TestAllocChunkSpawnsNewBucket(t *testing.T) {
	p := mockplatform.New(mockplatform.WithServer(testServer, 42))
	category, _ := p.CreateCategory(testServer, "data_0", nil)
	p.CreateChannel(testServer, category.ID, memory.CacheChannelName)

	var channels []platform.Channel
	for i := 0; i < memory.MaxChannelsPerBucket; i++ {
		ch, _ := p.CreateChannel(testServer, category.ID, strconv.Itoa(i))
		channels = append(channels, ch)
	}
	fullLedger(p, testServer, "data_0", channels)

	m, err := memory.InitManager(p, testServer, nil)
	if err != nil {
		t.Fatalf("InitManager failed: %v", err)
	}

	msg, err := m.AllocChunk(100)
	if err != nil {
		t.Fatalf("AllocChunk failed: %v", err)
	}

	if _, ok := p.FindChannel(testServer, "data_1", "0"); !ok {
		t.Fatal("bucket data_1 with channel 0 was not created")
	}
	ch, _ := p.FindChannel(testServer, "data_1", "0")
	if msg.ChannelID != ch.ID {
		t.Errorf("chunk placed in channel %d, want %d", msg.ChannelID, ch.ID)
	}
}

func TestAllocChunkOutOfMemory(t *testing.T) {
	p := mockplatform.New(mockplatform.WithServer(testServer, 42))

	for b := 0; b < memory.MaxBuckets; b++ {
		name := fmt.Sprintf("data_%d", b)
		category, _ := p.CreateCategory(testServer, name, nil)
		p.CreateChannel(testServer, category.ID, memory.CacheChannelName)

		var channels []platform.Channel
		for i := 0; i < memory.MaxChannelsPerBucket; i++ {
			ch, _ := p.CreateChannel(testServer, category.ID, strconv.Itoa(i))
			channels = append(channels, ch)
		}
		fullLedger(p, testServer, name, channels)
	}

	m, err := memory.InitManager(p, testServer, nil)
	if err != nil {
		t.Fatalf("InitManager failed: %v", err)
	}

	if _, err := m.AllocChunk(100); !errors.Is(err, memory.ErrOutOfMemory) {
		t.Fatalf("AllocChunk error = %v, want ErrOutOfMemory", err)
	}
}

func TestTraceFollowsChain(t *testing.T) {
	p, m := newManagerFixture(t)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	third := p.InjectMessage(ch.ID, mockplatform.BotID, "Yw==@END")
	second := p.InjectMessage(ch.ID, mockplatform.BotID,
		fmt.Sprintf("Yg==@%d:%d", ch.ID, third.ID))
	first := p.InjectMessage(ch.ID, mockplatform.BotID,
		fmt.Sprintf("YQ==@%d:%d", ch.ID, second.ID))

	trace, err := m.Trace(memory.Address{ChannelID: ch.ID, MessageID: first.ID})
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}
	if len(trace) != 3 {
		t.Fatalf("trace length = %d, want 3", len(trace))
	}
	for i, want := range []uint64{first.ID, second.ID, third.ID} {
		if trace[i].ID != want {
			t.Errorf("trace[%d].ID = %d, want %d", i, trace[i].ID, want)
		}
	}
}

func TestTraceBrokenHop(t *testing.T) {
	p, m := newManagerFixture(t)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	head := p.InjectMessage(ch.ID, mockplatform.BotID,
		fmt.Sprintf("YQ==@%d:99999999", ch.ID))

	_, err := m.Trace(memory.Address{ChannelID: ch.ID, MessageID: head.ID})
	if !errors.Is(err, memory.ErrInvalidAddress) {
		t.Fatalf("Trace error = %v, want ErrInvalidAddress", err)
	}
}

func TestFreeChunk(t *testing.T) {
	p, m := newManagerFixture(t)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	bucket := m.FindBucketByIndex(0)
	if err := bucket.Increment(ch.ID, 4); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	msg := p.InjectMessage(ch.ID, mockplatform.BotID, "aGk=@END")

	if err := m.FreeChunk(msg); err != nil {
		t.Fatalf("FreeChunk failed: %v", err)
	}

	if !m.WasRecentlyRemoved(msg.ID) {
		t.Error("freed chunk id missing from the recently-deleted queue")
	}
	if got := bucket.MemoryUsage(); got != 0 {
		t.Errorf("ledger after free = %d, want 0", got)
	}
	for _, remaining := range p.Messages(ch.ID) {
		if remaining.ID == msg.ID {
			t.Error("freed chunk message still present")
		}
	}
}

func TestRecentlyRemovedQueueIsBounded(t *testing.T) {
	_, m := newManagerFixture(t)

	for id := uint64(1); id <= 15; id++ {
		m.RecordRemoved(id)
	}

	if m.WasRecentlyRemoved(3) {
		t.Error("old entry survived past the queue bound")
	}
	if !m.WasRecentlyRemoved(15) {
		t.Error("recent entry missing from the queue")
	}
}

func TestRebuildAllCaches(t *testing.T) {
	p, m := newManagerFixture(t)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	p.InjectMessage(ch.ID, mockplatform.BotID, "aGVsbG8=@END")
	p.InjectMessage(ch.ID, 777, "junk")

	if err := m.RebuildAllCaches(); err != nil {
		t.Fatalf("RebuildAllCaches failed: %v", err)
	}
	if got := m.MemoryUsage()[0]; got != 8 {
		t.Errorf("usage after rebuild = %d, want 8", got)
	}
}
