package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func klineJSON(openTime int64, closePrice string, closed bool) string {
	return fmt.Sprintf(`{"e":"kline","E":%d,"s":"BTCUSDT","k":{"t":%d,"T":%d,"s":"BTCUSDT","i":"1m","o":"100","h":"105","l":"99","c":"%s","v":"12.5","x":%t}}`,
		openTime+1, openTime, openTime+59999, closePrice, closed)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func recvTick(t *testing.T, s *Stream) Tick {
	t.Helper()
	select {
	case tick, ok := <-s.Ticks():
		require.True(t, ok, "tick channel closed")
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return Tick{}
	}
}

func TestStream_SubscribeAndTicks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		var req subscribeRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "SUBSCRIBE" || len(req.Params) != 1 || req.Params[0] != "btcusdt@kline_1m" {
			t.Errorf("unexpected subscribe request: %+v", req)
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"result":null,"id":%d}`, req.ID)))
		_ = c.WriteMessage(websocket.TextMessage, []byte(klineJSON(1672531200000, "101.5", false)))
		combined := fmt.Sprintf(`{"stream":"btcusdt@kline_1m","data":%s}`, klineJSON(1672531200000, "102", true))
		_ = c.WriteMessage(websocket.TextMessage, []byte(combined))

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := StreamConfig{Streams: []string{KlineStreamName("BTCUSDT", "1m")}}
	s, err := DialStream(context.Background(), wsURL(server), cfg)
	require.NoError(t, err)

	first := recvTick(t, s)
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.False(t, first.Closed)
	assert.Equal(t, 101.5, first.Bar.Close)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), first.Bar.Timestamp)

	second := recvTick(t, s)
	assert.True(t, second.Closed)
	assert.Equal(t, 102.0, second.Bar.Close)
	assert.Equal(t, 105.0, second.Bar.High)
	assert.Equal(t, 12.5, second.Bar.Volume)

	ok, err := s.Healthy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrStreamClosed)
	_, err = s.Healthy(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
	_, ok = <-s.Ticks()
	assert.False(t, ok)
}

func TestStream_ReconnectsAndResubscribes(t *testing.T) {
	var conns, subscribes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		var req subscribeRequest
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		subscribes.Add(1)
		_ = c.WriteMessage(websocket.TextMessage, []byte(klineJSON(int64(n)*60000, fmt.Sprintf("%d", 100+n), true)))
		if n == 1 {
			// Drop the first connection abruptly.
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := StreamConfig{
		Streams:           []string{"btcusdt@kline_1m"},
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	}
	s, err := DialStream(context.Background(), wsURL(server), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 101.0, recvTick(t, s).Bar.Close)
	assert.Equal(t, 102.0, recvTick(t, s).Bar.Close)
	assert.Equal(t, int64(1), s.Reconnects())
	assert.Equal(t, int32(2), subscribes.Load())
}

func TestDialStream_Error(t *testing.T) {
	_, err := DialStream(context.Background(), "ws://127.0.0.1:1", StreamConfig{})
	require.Error(t, err)
}

func TestParseKline(t *testing.T) {
	tick, ok, err := parseKline([]byte(klineJSON(0, "50", true)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50.0, tick.Bar.Close)

	_, ok, err = parseKline([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = parseKline([]byte(`{"e":"aggTrade","s":"BTCUSDT"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseKline([]byte(klineJSON(0, "abc", true)))
	assert.True(t, errors.Is(err, ErrInvalidData))

	_, _, err = parseKline([]byte(klineJSON(0, "0", true)))
	assert.ErrorIs(t, err, ErrInvalidData)

	_, _, err = parseKline([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidData)
}
