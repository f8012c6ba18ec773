// Package e2e provides end-to-end testing infrastructure for the
// exchange. Tests run the production stack (store, books, engine,
// protocol handler, TCP server, ops listener) in process and drive it
// over real TCP connections with framed XML requests.
package e2e

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/protocol"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/feed"
	"github.com/Matty-7/StockTradingSystem/metrics"
	"github.com/Matty-7/StockTradingSystem/server"
)

const replyTimeout = 5 * time.Second

// Exchange is one running exchange instance under test. The store and
// engine are exposed so tests can assert on committed state that the
// wire protocol has no read for (balances, positions).
type Exchange struct {
	Store  *store.Store
	Engine *engine.Engine
	Hub    *feed.Hub

	srv  *server.Server
	ops  *server.OpsServer
	addr string
}

// StartExchange boots a complete exchange on loopback ports and tears
// it down with the test.
func StartExchange(t *testing.T) *Exchange {
	t.Helper()
	logger := log.NewNopLogger()

	collector := metrics.GetCollector()

	st := store.New(dbm.NewMemDB(), store.DefaultConfig(), logger)
	books := book.NewRegistry(book.KindBTree)
	eng := engine.New(st, books, logger)
	eng.SetMetrics(collector)

	hub := feed.NewHub(feed.Config{
		QuoteInterval:    10 * time.Millisecond,
		SendBuffer:       256,
		MaxSubscriptions: 50,
		MessageRateLimit: 1000,
	}, logger)
	hub.SetMetrics(collector)
	eng.SetEventSink(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	require.NoError(t, eng.RebuildBooks())

	handler := protocol.NewHandler(st, eng, logger)
	handler.SetMetrics(collector)

	srvCfg := server.DefaultConfig()
	srvCfg.Listen = "127.0.0.1:0"
	srv := server.New(srvCfg, handler, logger)
	srv.SetMetrics(collector)
	require.NoError(t, srv.Start())

	opsCfg := server.DefaultOpsConfig()
	opsCfg.Listen = "127.0.0.1:0"
	ops := server.NewOpsServer(opsCfg, hub, logger)
	require.NoError(t, ops.Start())

	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Stop(stopCtx)
		_ = ops.Stop(stopCtx)
	})

	return &Exchange{
		Store:  st,
		Engine: eng,
		Hub:    hub,
		srv:    srv,
		ops:    ops,
		addr:   srv.Addr().String(),
	}
}

// OpsURL returns the base URL of the ops HTTP listener
func (ex *Exchange) OpsURL() string {
	return "http://" + ex.ops.Addr().String()
}

// Balance reads an account's committed balance
func (ex *Exchange) Balance(t *testing.T, account string) math.LegacyDec {
	t.Helper()
	acct, err := ex.Store.GetAccount(account)
	require.NoError(t, err)
	require.NotNil(t, acct, "account %s missing", account)
	return acct.Balance
}

// Position reads a committed position; zero when none exists
func (ex *Exchange) Position(t *testing.T, account, symbol string) math.LegacyDec {
	t.Helper()
	pos, err := ex.Store.GetPosition(account, symbol)
	require.NoError(t, err)
	if pos == nil {
		return math.LegacyZeroDec()
	}
	return pos.Amount
}

// Client is one exchange protocol connection. Requests go out framed
// ("<length>\n<payload>"); replies come back as raw XML documents.
type Client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// Dial opens a client connection to the exchange
func (ex *Exchange) Dial(t *testing.T) *Client {
	t.Helper()
	conn, err := net.Dial("tcp", ex.addr)
	require.NoError(t, err, "dial exchange at %s", ex.addr)
	t.Cleanup(func() { conn.Close() })
	return &Client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// Send frames and writes one request payload
func (c *Client) Send(payload string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%d\n%s", len(payload), payload)
	require.NoError(c.t, err, "send request")
}

// Recv reads one reply document. Replies carry no length prefix, so
// bytes accumulate until a complete <results> document parses.
func (c *Client) Recv() Results {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(replyTimeout)))

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := c.r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var res Results
			if xml.Unmarshal(buf, &res) == nil {
				return res
			}
		}
		if err != nil {
			c.t.Fatalf("read reply: %v (buffered %q)", err, buf)
		}
	}
}

// RoundTrip sends one request and returns its reply
func (c *Client) RoundTrip(payload string) Results {
	c.t.Helper()
	c.Send(payload)
	return c.Recv()
}

// Closed reports whether the server has closed the connection
func (c *Client) Closed() bool {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(replyTimeout))
	_, err := c.r.ReadByte()
	return err == io.EOF
}

// Results is one parsed <results> reply
type Results struct {
	XMLName  xml.Name `xml:"results"`
	Children []Node   `xml:",any"`
}

// Node is one reply element with its attributes, text and children
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []Node     `xml:",any"`
}

// Attr returns the named attribute value, empty if absent
func (n Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Child requires the i-th child to carry the given tag and returns it
func (r Results) Child(t *testing.T, i int, tag string) Node {
	t.Helper()
	require.Greater(t, len(r.Children), i, "reply has %d children, want index %d", len(r.Children), i)
	n := r.Children[i]
	require.Equal(t, tag, n.XMLName.Local, "child %d: <%s %v>%s", i, n.XMLName.Local, n.Attrs, n.Text)
	return n
}

// Part requires the i-th status part to carry the given tag
func (n Node) Part(t *testing.T, i int, tag string) Node {
	t.Helper()
	require.Greater(t, len(n.Children), i, "status has %d parts, want index %d", len(n.Children), i)
	p := n.Children[i]
	require.Equal(t, tag, p.XMLName.Local, "part %d: <%s %v>", i, p.XMLName.Local, p.Attrs)
	return p
}

// OpenedID requires the i-th child to be an <opened> ack and returns
// the assigned order id.
func (r Results) OpenedID(t *testing.T, i int) string {
	t.Helper()
	opened := r.Child(t, i, "opened")
	id := opened.Attr("id")
	require.NotEmpty(t, id, "opened ack missing order id")
	return id
}

// Setup runs a create block and requires every child to succeed
func Setup(t *testing.T, c *Client, createPayload string) {
	t.Helper()
	res := c.RoundTrip(createPayload)
	for i, child := range res.Children {
		require.Equal(t, "created", child.XMLName.Local,
			"setup child %d failed: <%s %v>%s", i, child.XMLName.Local, child.Attrs, child.Text)
	}
}

func dec(t *testing.T, s string) math.LegacyDec {
	t.Helper()
	d, err := math.LegacyNewDecFromStr(s)
	require.NoError(t, err)
	return d
}
