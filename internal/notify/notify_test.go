package notify_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/protocol"
	"github.com/zoravur/tablegate/internal/resource"
)

type delivery struct {
	URI  string
	Sync bool
}

// recorder is a Transport that remembers what it was asked to deliver.
type recorder struct {
	mu   sync.Mutex
	got  []delivery
	fail map[string]error
}

func (r *recorder) Deliver(_ context.Context, uri resource.Identifier, sync bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivery{URI: uri.String(), Sync: sync})
	return r.fail[uri.String()]
}

func (r *recorder) uris() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, d := range r.got {
		out[i] = d.URI
	}
	return out
}

func cascadeCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	pk := catalog.PrimaryKey{Column: "id"}
	c, err := catalog.New(
		catalog.TableDetails{ID: "t", Name: "t", PrimaryKey: pk, Dependents: []string{"v", "ghost", "w"}},
		catalog.TableDetails{ID: "v", Name: "v_view", PrimaryKey: pk, Dependents: []string{"x", "t"}},
		catalog.TableDetails{ID: "w", Name: "w_view", PrimaryKey: pk},
		catalog.TableDetails{ID: "x", Name: "x", PrimaryKey: pk},
	)
	require.NoError(t, err)
	return c
}

func TestPropagate(t *testing.T) {
	cat := cascadeCatalog(t)
	td, _ := cat.Lookup("t")

	t.Run("PrimaryThenDependentsOneLevel", func(t *testing.T) {
		rec := &recorder{}
		p := notify.NewPropagator(cat, rec, nil)

		ev := notify.NewEvent(resource.MustParse("app/t/7"), notify.Update, td)
		require.NoError(t, p.Propagate(context.Background(), ev, td))

		assert.Equal(t, []string{
			"app/t/7?CPORM_CHANGE_TYPE=UPDATE",
			"app/v_view",
			"app/w_view",
		}, rec.uris())
	})

	t.Run("NotifyFalseIsNoop", func(t *testing.T) {
		rec := &recorder{}
		p := notify.NewPropagator(cat, rec, nil)

		ev := notify.NewEvent(resource.MustParse("app/t?NOTIFY_CHANGES=false"), notify.Insert, td)
		assert.False(t, ev.Notify)
		require.NoError(t, p.Propagate(context.Background(), ev, td))
		assert.Empty(t, rec.uris())
	})

	t.Run("SyncFlagCarried", func(t *testing.T) {
		rec := &recorder{}
		p := notify.NewPropagator(cat, rec, nil)

		ev := notify.NewEvent(resource.MustParse("app/t?IS_SYNC=0"), notify.Delete, td)
		require.NoError(t, p.Propagate(context.Background(), ev, td))
		require.Len(t, rec.got, 3)
		for _, d := range rec.got {
			assert.False(t, d.Sync, d.URI)
		}
	})

	t.Run("CycleTerminates", func(t *testing.T) {
		rec := &recorder{}
		p := notify.NewPropagator(cat, rec, nil)
		vd, _ := cat.Lookup("v")

		ev := notify.NewEvent(resource.MustParse("app/v_view"), notify.Update, vd)
		require.NoError(t, p.Propagate(context.Background(), ev, vd))
		assert.Equal(t, []string{"app/v_view?CPORM_CHANGE_TYPE=UPDATE", "app/x", "app/t"}, rec.uris())
	})

	t.Run("TransportErrorDoesNotStopCascade", func(t *testing.T) {
		boom := stderrors.New("boom")
		rec := &recorder{fail: map[string]error{"app/v_view": boom}}
		p := notify.NewPropagator(cat, rec, nil)

		ev := notify.NewEvent(resource.MustParse("app/t"), notify.Insert, td)
		err := p.Propagate(context.Background(), ev, td)
		assert.ErrorIs(t, err, boom)
		assert.Len(t, rec.uris(), 3)
	})

	t.Run("PropagateAllKeepsOrder", func(t *testing.T) {
		rec := &recorder{}
		p := notify.NewPropagator(cat, rec, nil)
		wd, _ := cat.Lookup("w")

		require.NoError(t, p.PropagateAll(context.Background(), []notify.ChangeEvent{
			notify.NewEvent(resource.MustParse("app/w_view/1"), notify.Insert, wd),
			notify.NewEvent(resource.MustParse("app/t/2"), notify.Delete, td),
		}))
		assert.Equal(t, []string{
			"app/w_view/1?CPORM_CHANGE_TYPE=INSERT",
			"app/t/2?CPORM_CHANGE_TYPE=DELETE",
			"app/v_view",
			"app/w_view",
		}, rec.uris())
	})
}

func TestHub(t *testing.T) {
	h := notify.NewHub()

	var mu sync.Mutex
	got := map[string][]string{}
	observe := func(id, uri string, descendants bool) {
		h.Register(&notify.Observer{
			ID:          id,
			URI:         resource.MustParse(uri),
			Descendants: descendants,
			Send: func(_ context.Context, c protocol.Change) error {
				mu.Lock()
				defer mu.Unlock()
				got[c.ID] = append(got[c.ID], c.URI)
				return nil
			},
		})
	}

	observe("collection", "app/books", false)
	observe("tree", "app/books", true)
	observe("row1", "app/books/1", false)
	observe("row2", "app/books/2", false)
	observe("other", "app/authors", true)
	assert.Equal(t, 5, h.Len())

	require.NoError(t, h.Deliver(context.Background(), resource.MustParse("app/books/1?CPORM_CHANGE_TYPE=UPDATE"), true))
	assert.Equal(t, map[string][]string{
		"tree": {"app/books/1?CPORM_CHANGE_TYPE=UPDATE"},
		"row1": {"app/books/1?CPORM_CHANGE_TYPE=UPDATE"},
	}, got)

	got = map[string][]string{}
	require.NoError(t, h.Deliver(context.Background(), resource.MustParse("app/books"), true))
	assert.ElementsMatch(t, []string{"collection", "tree", "row1", "row2"}, keys(got))

	h.Unregister("tree")
	_, ok := h.Get("tree")
	assert.False(t, ok)
	assert.Len(t, h.SnapshotView(), 4)
}

func keys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestAsync(t *testing.T) {
	t.Run("SyncBypassesQueue", func(t *testing.T) {
		rec := &recorder{}
		a := notify.NewAsync(rec, 1, 0, 1, nil)
		require.NoError(t, a.Deliver(context.Background(), resource.MustParse("app/t"), true))
		assert.Equal(t, []delivery{{URI: "app/t", Sync: true}}, rec.got)
	})

	t.Run("DeferredDrainsOnClose", func(t *testing.T) {
		rec := &recorder{}
		a := notify.NewAsync(rec, 8, 1000, 10, nil)
		a.Start(context.Background())

		for _, u := range []string{"app/t/1", "app/t/2", "app/t/3"} {
			require.NoError(t, a.Deliver(context.Background(), resource.MustParse(u), false))
		}
		require.NoError(t, a.Close())
		assert.Equal(t, []string{"app/t/1", "app/t/2", "app/t/3"}, rec.uris())
	})

	t.Run("FullQueue", func(t *testing.T) {
		rec := &recorder{}
		a := notify.NewAsync(rec, 1, 0, 1, nil)
		require.NoError(t, a.Deliver(context.Background(), resource.MustParse("app/t/1"), false))
		assert.Error(t, a.Deliver(context.Background(), resource.MustParse("app/t/2"), false))
	})
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedis(t *testing.T) {
	pub := &fakePublisher{}
	r := notify.NewRedis(pub, "")
	require.NoError(t, r.Deliver(context.Background(), resource.MustParse("app/books/3?CPORM_CHANGE_TYPE=DELETE"), true))

	assert.Equal(t, "tablegate.changes", pub.channel)
	var msg protocol.Change
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, protocol.TypeChange, msg.Type)
	assert.Equal(t, "books", msg.Table)
	assert.Equal(t, "3", msg.Key)
	assert.Equal(t, "DELETE", msg.ChangeType)

	pub.err = stderrors.New("down")
	assert.Error(t, r.Deliver(context.Background(), resource.MustParse("app/books"), true))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafka(t *testing.T) {
	w := &fakeWriter{}
	k := notify.NewKafka(w)
	require.NoError(t, k.Deliver(context.Background(), resource.MustParse("app/books"), false))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "books", string(w.msgs[0].Key))
	var msg protocol.Change
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.False(t, msg.Sync)
	assert.Equal(t, "app/books", msg.URI)

	_, err := notify.NewKafkaWriter(notify.KafkaConfig{})
	assert.Error(t, err)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{fail: map[string]error{"app/t": stderrors.New("x")}}
	err := notify.Multi{b, a}.Deliver(context.Background(), resource.MustParse("app/t"), true)
	assert.Error(t, err)
	assert.Len(t, a.got, 1)
}

func TestEventKeyIncludesChangeType(t *testing.T) {
	u := resource.MustParse("app/t")
	ins := notify.NewEvent(u, notify.Insert, nil)
	upd := notify.NewEvent(u, notify.Update, nil)
	assert.NotEqual(t, ins.Key(), upd.Key())
	assert.Equal(t, ins.Key(), notify.NewEvent(u, notify.Insert, nil).Key())
}
