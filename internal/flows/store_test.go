package flows

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeDBTX struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (d *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if d.execFunc != nil {
		return d.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (d *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if d.queryRowFunc != nil {
		return d.queryRowFunc(ctx, sql, args...)
	}
	return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateExpiresPreviousPending(t *testing.T) {
	var expired bool
	db := &fakeDBTX{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "UPDATE pending_flows") {
				expired = true
				assert.Equal(t, StatusExpired, args[3])
				assert.Equal(t, StatusPending, args[4])
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "flow-1"
				*dest[1].(*time.Time) = time.Now().Add(10 * time.Minute)
				*dest[2].(*time.Time) = time.Now()
				return nil
			}}
		},
	}
	store := NewStore(testLogger(), db, 10*time.Minute)

	flow, err := store.Create(context.Background(), "u1", "c1", TypeImageChoice, StateData{
		ImageURL:  "https://example.com/signed",
		ImagePath: "discord/g1/c1/u1/m1.png",
		MessageID: "m1",
	})
	require.NoError(t, err)
	assert.True(t, expired, "previous pending flows must be force-expired before insert")
	assert.Equal(t, "flow-1", flow.ID)
	assert.Equal(t, StatusPending, flow.Status)
}

func TestGetActiveNone(t *testing.T) {
	store := NewStore(testLogger(), &fakeDBTX{}, 10*time.Minute)

	_, err := store.GetActive(context.Background(), "u1", "c1", TypeImageChoice)
	assert.ErrorIs(t, err, ErrNoActiveFlow)
}

func TestGetActiveDecodesState(t *testing.T) {
	db := &fakeDBTX{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "expires_at > now()")
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "flow-1"
				*dest[1].(*[]byte) = []byte(`{"image_url":"https://x/y","image_path":"discord/g/c/u/m.png","message_id":"m1"}`)
				*dest[2].(*time.Time) = time.Now().Add(time.Minute)
				*dest[3].(*time.Time) = time.Now()
				return nil
			}}
		},
	}
	store := NewStore(testLogger(), db, 10*time.Minute)

	flow, err := store.GetActive(context.Background(), "u1", "c1", TypeImageChoice)
	require.NoError(t, err)
	assert.Equal(t, "discord/g/c/u/m.png", flow.State.ImagePath)
	assert.Equal(t, "m1", flow.State.MessageID)
}

func TestConcurrentCreatesBothInsert(t *testing.T) {
	// Serializing creates on one key must not collapse them into a shared
	// result: each caller's state lands in its own row.
	var mu sync.Mutex
	var inserted []string
	firstInsert := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	db := &fakeDBTX{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			once.Do(func() {
				close(firstInsert)
				<-release
			})
			var state StateData
			require.NoError(t, json.Unmarshal(args[3].([]byte), &state))
			mu.Lock()
			inserted = append(inserted, state.MessageID)
			mu.Unlock()
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "flow-" + state.MessageID
				*dest[1].(*time.Time) = time.Now().Add(10 * time.Minute)
				*dest[2].(*time.Time) = time.Now()
				return nil
			}}
		},
	}
	store := NewStore(testLogger(), db, 10*time.Minute)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := store.Create(context.Background(), "u1", "c1", TypeImageChoice, StateData{MessageID: "m1"})
		assert.NoError(t, err)
	}()
	<-firstInsert
	go func() {
		defer wg.Done()
		_, err := store.Create(context.Background(), "u1", "c1", TypeImageChoice, StateData{MessageID: "m2"})
		assert.NoError(t, err)
	}()
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"m1", "m2"}, inserted)
}

func TestResolveIdempotent(t *testing.T) {
	calls := 0
	db := &fakeDBTX{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			calls++
			assert.Contains(t, sql, "status = $3")
			if calls == 1 {
				return pgconn.NewCommandTag("UPDATE 1"), nil
			}
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	store := NewStore(testLogger(), db, 10*time.Minute)

	won, err := store.Resolve(context.Background(), "flow-1", StatusCompleted)
	require.NoError(t, err)
	assert.True(t, won)

	// second resolution loses the race but is not an error
	won, err = store.Resolve(context.Background(), "flow-1", StatusCancelled)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestResolveRejectsUnknownOutcome(t *testing.T) {
	store := NewStore(testLogger(), &fakeDBTX{}, 10*time.Minute)

	_, err := store.Resolve(context.Background(), "flow-1", "done")
	assert.Error(t, err)
}
