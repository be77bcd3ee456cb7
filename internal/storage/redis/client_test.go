package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfree/backend/internal/config"
)

func TestParseUID(t *testing.T) {
	uid, err := parseUID("4294967295")
	require.NoError(t, err)
	assert.Equal(t, uint32(4294967295), uid)

	for _, raw := range []string{"", "-1", "abc", "4294967296"} {
		_, err := parseUID(raw)
		assert.Error(t, err, raw)
	}
}

// 需要真实 Redis，设置 MAILFREE_TEST_REDIS 后运行
func TestClient_Integration(t *testing.T) {
	addr := os.Getenv("MAILFREE_TEST_REDIS")
	if addr == "" {
		t.Skip("MAILFREE_TEST_REDIS not set")
	}
	client, err := New(&config.RedisConfig{Address: addr, DB: 15}, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.rdb.Del(ctx, LastUIDKey).Err())
	uid, err := client.LastUID(ctx)
	require.NoError(t, err)
	assert.Zero(t, uid)

	require.NoError(t, client.SetLastUID(ctx, 42))
	uid, err = client.LastUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), uid)

	got := make(chan []byte, 1)
	subCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(subCtx, func(b []byte) {
			select {
			case got <- b:
			default:
			}
		})
	}()

	// 订阅建立前发布的消息会丢失，重试直到收到
	deadline := time.After(3 * time.Second)
	for {
		require.NoError(t, client.Publish(ctx, []byte(`{"type":"new_mail"}`)))
		select {
		case b := <-got:
			assert.JSONEq(t, `{"type":"new_mail"}`, string(b))
			stop()
			assert.NoError(t, <-done)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no message received")
		}
	}
}
