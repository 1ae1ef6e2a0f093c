package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/models"
)

func fakeClient(hub *Hub, channel string) *Client {
	return &Client{ID: uuid.NewString(), Channel: channel, hub: hub, send: make(chan WSMessage, 8)}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %q", msg.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelFor(t *testing.T) {
	for in, want := range map[string]string{"": ChannelAll, "all": ChannelAll, "Rental": "rental", " clothing ": "clothing"} {
		got, ok := ChannelFor(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ChannelFor("boats")
	assert.False(t, ok)
}

func TestFeedLocalFanOut(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	all := fakeClient(hub, ChannelAll)
	rental := fakeClient(hub, "rental")
	clothing := fakeClient(hub, "clothing")
	for _, c := range []*Client{all, rental, clothing} {
		hub.Register(c)
	}

	ad := models.Ad{ID: uuid.New(), Title: "2-room flat", Category: models.CategoryRental, Lat: 52.5, Lng: 13.4}
	NewFeed(hub).ListingChanged(lifecycle.EventActivated, ad)

	for _, c := range []*Client{all, rental} {
		msg := receive(t, c)
		assert.Equal(t, lifecycle.EventActivated, msg.Event)
		var ev ListingEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, ad.ID, ev.ID)
		assert.Equal(t, models.CategoryRental, ev.Category)
	}
	assertSilent(t, clothing)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	c := fakeClient(hub, ChannelAll)
	hub.Register(c)
	assert.Equal(t, 1, hub.ClientCount(ChannelAll))

	hub.Unregister(c)
	assert.Zero(t, hub.ClientCount(ChannelAll))
	_, open := <-c.send
	assert.False(t, open)

	hub.Unregister(c) // second call is a no-op
	hub.Broadcast(ChannelAll, "x", map[string]int{})
}

func TestFeedAcrossInstancesViaRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ps := NewRedisPubSub(rdb, nil)
	sender := NewHub(nil, ps, ps)
	receiver := NewHub(nil, ps, ps)

	local := fakeClient(sender, "sale")
	remote := fakeClient(receiver, "sale")
	sender.Register(local)
	receiver.Register(remote)
	t.Cleanup(func() {
		sender.Unregister(local)
		receiver.Unregister(remote)
	})

	ad := models.Ad{ID: uuid.New(), Category: models.CategorySale}
	NewFeed(sender).ListingChanged(lifecycle.EventExpired, ad)

	for _, c := range []*Client{local, remote} {
		msg := receive(t, c)
		assert.Equal(t, lifecycle.EventExpired, msg.Event)
	}
	assertSilent(t, local)
}

func TestServeWs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, nil, []string{"https://map.example"}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?category=clothing"

	resp, err := http.Get(srv.URL + "/ws?category=boats")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, _, err = websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	assert.Error(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://map.example"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount("clothing") == 1 }, 2*time.Second, 10*time.Millisecond)
	NewFeed(hub).ListingChanged(lifecycle.EventDeactivated, models.Ad{ID: uuid.New(), Category: models.CategoryClothing})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, lifecycle.EventDeactivated, msg.Event)
}
