package memory_test

import (
	"strings"
	"testing"

	"github.com/7hebel/drivecord-server/memory"
	"github.com/7hebel/drivecord-server/mockplatform"
	"github.com/7hebel/drivecord-server/platform"
)

const testServer = 1

// newBucketFixture builds a server holding one data_0 category with a
// cache channel and n data channels.
func newBucketFixture(t *testing.T, n int) (*mockplatform.Platform, platform.Category) {
	t.Helper()

	p := mockplatform.New(mockplatform.WithServer(testServer, 42))
	category, err := p.CreateCategory(testServer, "data_0", nil)
	if err != nil {
		t.Fatalf("creating category: %v", err)
	}
	if _, err := p.CreateChannel(testServer, category.ID, memory.CacheChannelName); err != nil {
		t.Fatalf("creating cache channel: %v", err)
	}
	for i := 0; i < n; i++ {
		name := string(rune('0' + i))
		if _, err := p.CreateChannel(testServer, category.ID, name); err != nil {
			t.Fatalf("creating data channel %s: %v", name, err)
		}
	}
	return p, category
}

func TestInitBucketCreatesFirstChannel(t *testing.T) {
	p, category := newBucketFixture(t, 0)

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}

	channels := bucket.Channels()
	if len(channels) != 1 || channels[0].Name != "0" {
		t.Fatalf("expected single data channel 0, got %+v", channels)
	}
	if _, ok := p.FindChannel(testServer, "data_0", "0"); !ok {
		t.Error("data channel 0 was not created on the platform")
	}
}

func TestInitBucketRebuildsMissingLedger(t *testing.T) {
	p, category := newBucketFixture(t, 1)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	// Drive-authored chunks count, foreign junk does not.
	p.InjectMessage(ch.ID, mockplatform.BotID, "aGVsbG8=@END")
	p.InjectMessage(ch.ID, mockplatform.BotID, "YWJj@1:2")
	p.InjectMessage(ch.ID, 777, "someone else's message")

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}

	if got := bucket.MemoryUsage(); got != 12 {
		t.Errorf("MemoryUsage() = %d, want 12", got)
	}

	cacheCh, _ := p.FindChannel(testServer, "data_0", memory.CacheChannelName)
	if len(p.Messages(cacheCh.ID)) == 0 {
		t.Error("rebuilt ledger was not persisted to the cache channel")
	}
}

func TestInitBucketLedgerRoundTrip(t *testing.T) {
	p, category := newBucketFixture(t, 1)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}
	if err := bucket.Increment(ch.ID, 123); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	reloaded, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("reloading bucket failed: %v", err)
	}
	if got := reloaded.MemoryUsage(); got != 123 {
		t.Errorf("ledger did not round trip: MemoryUsage() = %d, want 123", got)
	}
}

func TestDecrementClampsAtZero(t *testing.T) {
	p, category := newBucketFixture(t, 1)
	ch, _ := p.FindChannel(testServer, "data_0", "0")

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}
	if err := bucket.Increment(ch.ID, 10); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := bucket.Decrement(ch.ID, 50); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}

	if got := bucket.MemoryUsage(); got != 0 {
		t.Errorf("MemoryUsage() = %d, want 0 after clamped decrement", got)
	}
}

func TestAllocFirstFit(t *testing.T) {
	p, category := newBucketFixture(t, 2)
	ch0, _ := p.FindChannel(testServer, "data_0", "0")
	ch1, _ := p.FindChannel(testServer, "data_0", "1")

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}

	// Fill channel 0 so the next allocation lands in channel 1.
	if err := bucket.Increment(ch0.ID, memory.TotalChannelContentSize); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	msg, ok, err := bucket.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if !ok {
		t.Fatal("Alloc reported no capacity")
	}
	if msg.ChannelID != ch1.ID {
		t.Errorf("chunk allocated in channel %d, want %d", msg.ChannelID, ch1.ID)
	}
}

func TestAllocExhausted(t *testing.T) {
	p, category := newBucketFixture(t, 1)
	ch0, _ := p.FindChannel(testServer, "data_0", "0")

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}
	if err := bucket.Increment(ch0.ID, memory.TotalChannelContentSize); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	_, ok, err := bucket.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if ok {
		t.Error("Alloc succeeded in a full bucket")
	}
}

func TestAllocDoesNotChargeLedger(t *testing.T) {
	p, category := newBucketFixture(t, 1)

	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}

	if _, _, err := bucket.Alloc(500); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if got := bucket.MemoryUsage(); got != 0 {
		t.Errorf("ledger charged at allocation time: %d, want 0", got)
	}
}

func TestInitBucketDeletesForeignLedger(t *testing.T) {
	p, category := newBucketFixture(t, 1)
	cacheCh, _ := p.FindChannel(testServer, "data_0", memory.CacheChannelName)

	// A genuine ledger followed by a foreign message on top of it.
	bucket, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("InitBucket failed: %v", err)
	}
	ch, _ := p.FindChannel(testServer, "data_0", "0")
	if err := bucket.Increment(ch.ID, 77); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	foreign := p.InjectMessage(cacheCh.ID, 777, "tampered")

	reloaded, err := memory.InitBucket(p, testServer, category, 0)
	if err != nil {
		t.Fatalf("reloading bucket failed: %v", err)
	}
	if got := reloaded.MemoryUsage(); got != 77 {
		t.Errorf("MemoryUsage() = %d, want 77 from the genuine ledger", got)
	}
	for _, msg := range p.Messages(cacheCh.ID) {
		if msg.ID == foreign.ID {
			t.Error("foreign ledger message was not deleted")
		}
	}
}

func TestInitBucketRejectsChannelGap(t *testing.T) {
	p := mockplatform.New(mockplatform.WithServer(testServer, 42))
	category, _ := p.CreateCategory(testServer, "data_0", nil)
	p.CreateChannel(testServer, category.ID, memory.CacheChannelName)
	p.CreateChannel(testServer, category.ID, "0")
	p.CreateChannel(testServer, category.ID, "2")

	if _, err := memory.InitBucket(p, testServer, category, 0); err == nil {
		t.Fatal("expected error for non-contiguous data channels")
	} else if !strings.Contains(err.Error(), "not contiguous") {
		t.Errorf("unexpected error: %v", err)
	}
}
