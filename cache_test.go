package gridcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/gridcache/codec"
	"github.com/DeltaLaboratory/gridcache/internal/protocol"
)

type stubNode struct{}

func (stubNode) ID() string      { return "stub-node" }
func (stubNode) Address() string { return "127.0.0.1:0" }

// stubRouter emulates a single-node grid in memory and counts transport
// calls so tests can assert which operations touch the network.
type stubRouter struct {
	mu      sync.Mutex
	entries map[int64]map[string][]byte

	sendCalls    int
	refreshCalls int

	resolveErr error
	sendErr    error
	status     protocol.Status
	rawValue   []byte // overrides stored value bytes when set
}

func newStubRouter() *stubRouter {
	return &stubRouter{entries: make(map[int64]map[string][]byte)}
}

func (s *stubRouter) ResolveNode(cacheID int64, affinity []byte) (NodeChannel, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return stubNode{}, nil
}

func (s *stubRouter) RefreshPartitionTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++
	return nil
}

func (s *stubRouter) Close() error { return nil }

func (s *stubRouter) SendAndAwait(ctx context.Context, node NodeChannel, op protocol.OperationType, req, rsp any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++

	if s.sendErr != nil {
		return s.sendErr
	}

	switch op {
	case protocol.OpCachePut:
		r := req.(*protocol.PutRequest)
		s.cache(r.CacheID)[string(r.Key)] = r.Value
		rsp.(*protocol.AckResponse).Status = s.status
	case protocol.OpCacheGet:
		r := req.(*protocol.KeyRequest)
		out := rsp.(*protocol.ValueResponse)
		out.Status = s.status
		if value, ok := s.cache(r.CacheID)[string(r.Key)]; ok {
			out.Found = true
			out.Value = value
			if s.rawValue != nil {
				out.Value = s.rawValue
			}
		}
	case protocol.OpCacheContainsKey:
		r := req.(*protocol.KeyRequest)
		out := rsp.(*protocol.BoolResponse)
		out.Status = s.status
		_, out.Result = s.cache(r.CacheID)[string(r.Key)]
	case protocol.OpCacheRemoveKey:
		r := req.(*protocol.KeyRequest)
		out := rsp.(*protocol.BoolResponse)
		out.Status = s.status
		_, out.Result = s.cache(r.CacheID)[string(r.Key)]
		delete(s.cache(r.CacheID), string(r.Key))
	case protocol.OpCacheClearKey:
		r := req.(*protocol.KeyRequest)
		delete(s.cache(r.CacheID), string(r.Key))
		rsp.(*protocol.AckResponse).Status = s.status
	case protocol.OpCacheRemoveAll, protocol.OpCacheClear:
		r := req.(*protocol.CacheRequest)
		s.entries[r.CacheID] = make(map[string][]byte)
		rsp.(*protocol.AckResponse).Status = s.status
	case protocol.OpCacheGetSize:
		r := req.(*protocol.SizeRequest)
		out := rsp.(*protocol.CountResponse)
		out.Status = s.status
		out.Count = int64(len(s.cache(r.CacheID)))
	default:
		return fmt.Errorf("stub: unexpected op %d", op)
	}
	return nil
}

func (s *stubRouter) cache(id int64) map[string][]byte {
	m, ok := s.entries[id]
	if !ok {
		m = make(map[string][]byte)
		s.entries[id] = m
	}
	return m
}

func newTestCache(t *testing.T, r Router, binary bool) *Cache {
	t.Helper()
	near, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1024,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(near.Close)

	name := "test-cache"
	return &Cache{
		name:   name,
		id:     protocol.CacheID(name),
		binary: binary,
		router: r,
		near:   near,
		logger: zerolog.Nop(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	cache := newTestCache(t, newStubRouter(), false)
	ctx := context.Background()

	type user struct {
		Name string `msgpack:"name"`
		Age  int    `msgpack:"age"`
	}

	in := user{Name: "alice", Age: 30}
	if err := cache.Put(ctx, codec.String("u:1"), codec.Msgpack{V: in}); err != nil {
		t.Fatal(err)
	}

	var out user
	found, err := cache.Get(ctx, codec.String("u:1"), codec.Msgpack{V: &out})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected a hit")
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestGetMissLeavesValueUntouched(t *testing.T) {
	cache := newTestCache(t, newStubRouter(), false)

	out := codec.String("sentinel")
	found, err := cache.Get(context.Background(), codec.String("absent"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected a miss")
	}
	if out != "sentinel" {
		t.Fatalf("miss must not touch the out value, got %q", out)
	}
}

func TestRemoveSemantics(t *testing.T) {
	cache := newTestCache(t, newStubRouter(), false)
	ctx := context.Background()

	if err := cache.Put(ctx, codec.String("k"), codec.String("v")); err != nil {
		t.Fatal(err)
	}

	removed, err := cache.Remove(ctx, codec.String("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected true after a prior put")
	}

	removed, err = cache.Remove(ctx, codec.String("k"))
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("expected false for a key already removed")
	}

	exists, err := cache.ContainsKey(ctx, codec.String("k"))
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("removed key must not exist")
	}
}

func TestClearThenSizeZero(t *testing.T) {
	cache := newTestCache(t, newStubRouter(), false)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := cache.Put(ctx, codec.String(fmt.Sprintf("k-%d", i)), codec.Int64(int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	size, err := cache.GetSize(ctx, PeekAll)
	if err != nil {
		t.Fatal(err)
	}
	if size != 8 {
		t.Fatalf("size = %d, want 8", size)
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	size, err = cache.GetSize(ctx, PeekAll)
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("size after clear = %d, want 0", size)
	}
}

func TestServerErrorPropagates(t *testing.T) {
	router := newStubRouter()
	router.status = protocol.Status{Error: "type conflict"}
	cache := newTestCache(t, router, false)

	_, err := cache.Remove(context.Background(), codec.String("k"))
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *ServerError, got %v", err)
	}
	if serverErr.Message != "type conflict" {
		t.Fatalf("message %q not propagated verbatim", serverErr.Message)
	}
}

func TestNotPrimaryMapsToRoutingUnavailable(t *testing.T) {
	router := newStubRouter()
	router.status = protocol.Status{NotPrimary: true}
	cache := newTestCache(t, router, false)

	err := cache.Put(context.Background(), codec.String("k"), codec.String("v"))
	if !errors.Is(err, ErrRoutingUnavailable) {
		t.Fatalf("expected ErrRoutingUnavailable, got %v", err)
	}
}

func TestResolveFailureMapsToRoutingUnavailable(t *testing.T) {
	router := newStubRouter()
	router.resolveErr = errors.New("partition table not initialized")
	cache := newTestCache(t, router, false)

	_, err := cache.ContainsKey(context.Background(), codec.String("k"))
	if !errors.Is(err, ErrRoutingUnavailable) {
		t.Fatalf("expected ErrRoutingUnavailable, got %v", err)
	}
}

func TestSendFailureMapsToTransport(t *testing.T) {
	router := newStubRouter()
	router.sendErr = errors.New("connection reset")
	cache := newTestCache(t, router, false)

	err := cache.Put(context.Background(), codec.String("k"), codec.String("v"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestUndecodableResponseMapsToDecoding(t *testing.T) {
	router := newStubRouter()
	router.rawValue = []byte{0xEE, 0xFF}
	cache := newTestCache(t, router, false)
	ctx := context.Background()

	if err := cache.Put(ctx, codec.String("k"), codec.String("v")); err != nil {
		t.Fatal(err)
	}

	var out codec.String
	_, err := cache.Get(ctx, codec.String("k"), &out)
	if !errors.Is(err, ErrDecoding) {
		t.Fatalf("expected ErrDecoding, got %v", err)
	}
}

func TestLocalPeekNeverTouchesTransport(t *testing.T) {
	router := newStubRouter()
	cache := newTestCache(t, router, false)

	var out codec.String
	found, err := cache.LocalPeek(codec.String("never-inserted"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected a miss")
	}
	if router.sendCalls != 0 {
		t.Fatalf("LocalPeek issued %d transport calls", router.sendCalls)
	}
}

func TestLocalPeekAfterPut(t *testing.T) {
	router := newStubRouter()
	cache := newTestCache(t, router, false)

	if err := cache.Put(context.Background(), codec.String("k"), codec.String("v")); err != nil {
		t.Fatal(err)
	}
	cache.near.Wait()

	calls := router.sendCalls
	var out codec.String
	found, err := cache.LocalPeek(codec.String("k"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if !found || out != "v" {
		t.Fatalf("found=%v out=%q, want hit with %q", found, out, "v")
	}
	if router.sendCalls != calls {
		t.Fatal("LocalPeek touched the transport")
	}
}

func TestRefreshAffinityMapping(t *testing.T) {
	router := newStubRouter()
	cache := newTestCache(t, router, false)
	ctx := context.Background()

	if err := cache.RefreshAffinityMapping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := cache.RefreshAffinityMapping(ctx); err != nil {
		t.Fatal(err)
	}
	if router.refreshCalls != 2 {
		t.Fatalf("refreshCalls = %d, want 2", router.refreshCalls)
	}
}

func TestBinaryModeFlagOnWire(t *testing.T) {
	router := newStubRouter()
	cache := newTestCache(t, router, true)
	ctx := context.Background()

	payload := codec.Bytes{0xCA, 0xFE}
	if err := cache.Put(ctx, codec.String("k"), payload); err != nil {
		t.Fatal(err)
	}

	var out codec.Bytes
	found, err := cache.Get(ctx, codec.String("k"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(out) != string(payload) {
		t.Fatalf("binary round trip failed: found=%v out=%v", found, out)
	}
}

func TestAffinityKeyRoutesWithoutChangingPayload(t *testing.T) {
	router := newStubRouter()
	cache := newTestCache(t, router, false)
	ctx := context.Background()

	key := codec.KeyWithAffinity{
		Key:      codec.String("session:42:token"),
		Affinity: codec.String("user:42"),
	}
	if err := cache.Put(ctx, key, codec.String("v")); err != nil {
		t.Fatal(err)
	}

	// The entry must be retrievable by the plain key payload.
	var out codec.String
	found, err := cache.Get(ctx, codec.String("session:42:token"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if !found || out != "v" {
		t.Fatalf("found=%v out=%q", found, out)
	}
}

func TestConcurrentDisjointKeys(t *testing.T) {
	cache := newTestCache(t, newStubRouter(), false)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := codec.String(fmt.Sprintf("worker-%d", n))
			want := codec.Int64(int64(n))

			for j := 0; j < 50; j++ {
				if err := cache.Put(ctx, key, want); err != nil {
					errCh <- err
					return
				}
				var got codec.Int64
				found, err := cache.Get(ctx, key, &got)
				if err != nil {
					errCh <- err
					return
				}
				if !found || got != want {
					errCh <- fmt.Errorf("worker %d read found=%v value=%d", n, found, got)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}
