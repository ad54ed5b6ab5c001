package testutil

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestContextCancelsOnCleanup(t *testing.T) {
	ctx := TestContext(t)
	require.NoError(t, ctx.Err())
	_, ok := ctx.Deadline()
	assert.True(t, ok)
}

func TestCancelledContext(t *testing.T) {
	assert.Error(t, CancelledContext().Err())
}

func TestNewTestDBIsolated(t *testing.T) {
	db := NewTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO kv (k, v) VALUES ('a', '1')").Error)

	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM kv").Scan(&count).Error)
	assert.Equal(t, int64(1), count)

	// 第二个库看不到第一个库的表
	other := NewTestDB(t)
	assert.Error(t, other.Raw("SELECT COUNT(*) FROM kv").Scan(&count).Error)
}

func TestNewTestRedis(t *testing.T) {
	addr := NewTestRedis(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	require.NoError(t, client.Set(TestContext(t), "k", "v", 0).Err())
	got, err := client.Get(TestContext(t), "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestWaitFor(t *testing.T) {
	n := 0
	assert.True(t, WaitFor(func() bool { n++; return n > 2 }, time.Second))
	assert.False(t, WaitFor(func() bool { return false }, 50*time.Millisecond))
}

func TestWaitForChannel(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 42
	v, ok := WaitForChannel(ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = WaitForChannel(make(chan int), 20*time.Millisecond)
	assert.False(t, ok)
}

func TestMustJSONRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	s := MustJSON(payload{Name: "checkout"})
	assert.JSONEq(t, `{"name":"checkout"}`, s)
	assert.Equal(t, payload{Name: "checkout"}, MustParseJSON[payload](s))
}
