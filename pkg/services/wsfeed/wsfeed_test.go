package wsfeed

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/chainmux/internal/muxtest"
	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/nspcc-dev/chainmux/pkg/signalmux/feed"
	json "github.com/nspcc-dev/go-ordered-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, maxClients int) (*Server, *signalmux.Multiplexer) {
	f := feed.New(0, zaptest.NewLogger(t))
	f.Start()
	t.Cleanup(f.Shutdown)

	cfg := config.WSFeed{
		BasicService: config.BasicService{Enabled: true, Addresses: []string{"localhost:0"}},
		MaxClients:   maxClients,
	}
	s := New(cfg, f, zaptest.NewLogger(t))
	require.NoError(t, s.Start())
	t.Cleanup(s.Shutdown)

	m := signalmux.New(signalmux.Config{Log: zaptest.NewLogger(t)})
	m.Register(f)
	return s, m
}

func dial(t *testing.T, s *Server) (*websocket.Conn, *http.Response, error) {
	url := "ws://" + s.Addresses()[0] + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, err
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &res))
	return res
}

func TestServerEvents(t *testing.T) {
	s, m := newTestServer(t, 2)
	require.Equal(t, "wsfeed", s.Name())

	ws, _, err := dial(t, s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 10*time.Millisecond)

	m.OnBlockStart(5)
	tr, p := muxtest.NewTransaction(5, 0)
	m.OnTransactionApplied(tr, p)
	m.OnBlockAccepted(muxtest.NewBlock(5))
	m.OnBlockIrreversible(muxtest.NewBlock(5))

	msg := readMessage(t, ws)
	require.Equal(t, "block_start", msg["event"])
	require.Equal(t, float64(5), msg["payload"].(map[string]interface{})["index"])

	msg = readMessage(t, ws)
	require.Equal(t, "transaction_batch", msg["event"])
	payload := msg["payload"].(map[string]interface{})
	require.Equal(t, float64(5), payload["block"].(map[string]interface{})["index"])
	txs := payload["transactions"].([]interface{})
	require.Len(t, txs, 1)
	trace := txs[0].(map[string]interface{})["trace"].(map[string]interface{})
	require.Equal(t, "0x"+tr.ID.String(), trace["id"])
	require.Equal(t, "executed", trace["status"])

	msg = readMessage(t, ws)
	require.Equal(t, "irreversible_block", msg["event"])
}

func TestServerMaxClients(t *testing.T) {
	s, _ := newTestServer(t, 1)

	_, _, err := dial(t, s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := dial(t, s)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerDisconnect(t *testing.T) {
	s, _ := newTestServer(t, 0)
	ws, _, err := dial(t, s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return s.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServerDisabled(t *testing.T) {
	f := feed.New(0, nil)
	s := New(config.WSFeed{}, f, nil)
	require.NoError(t, s.Start())
	s.Shutdown()
}

func TestServerFeedNotRunning(t *testing.T) {
	f := feed.New(0, nil)
	cfg := config.WSFeed{BasicService: config.BasicService{Enabled: true, Addresses: []string{"localhost:0"}}}
	s := New(cfg, f, zaptest.NewLogger(t))
	require.ErrorIs(t, s.Start(), feed.ErrNotRunning)
}

func TestMessageFieldOrder(t *testing.T) {
	rec := muxtest.NewRecord(3, 1)
	b, err := marshal(feed.Event{
		Type:  feed.TransactionBatch,
		Index: 3,
		Block: muxtest.NewBlock(3),
		Batch: []signalmux.TransactionRecord{rec},
	})
	require.NoError(t, err)
	s := string(b)
	require.True(t, strings.HasPrefix(s, `{"event":"transaction_batch","payload":{"block":{"index":3,`), s)
	require.Less(t, strings.Index(s, `"trace"`), strings.Index(s, `"packed"`))

	b, err = marshal(feed.Event{Type: feed.TransactionBatch})
	require.NoError(t, err)
	require.Equal(t, `{"event":"transaction_batch","payload":{"block":null,"transactions":[]}}`, string(b))
}
