package protocol

import (
	"encoding/xml"
	"strings"
	"testing"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"

	"github.com/Matty-7/StockTradingSystem/exchange/book"
	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
)

// node mirrors an arbitrary reply element for assertions
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	st := store.New(dbm.NewMemDB(), store.DefaultConfig(), log.NewNopLogger())
	eng := engine.New(st, book.NewRegistry(book.KindBTree), log.NewNopLogger())
	return NewHandler(st, eng, log.NewNopLogger())
}

func handle(t *testing.T, h *Handler, payload string) node {
	t.Helper()
	reply := h.Handle([]byte(payload))
	var n node
	if err := xml.Unmarshal(reply, &n); err != nil {
		t.Fatalf("reply not parseable: %v\n%s", err, reply)
	}
	if n.XMLName.Local != "results" {
		t.Fatalf("reply root = %q, want results\n%s", n.XMLName.Local, reply)
	}
	return n
}

func wantChild(t *testing.T, n node, i int, name string) node {
	t.Helper()
	if i >= len(n.Children) {
		t.Fatalf("reply has %d children, want index %d", len(n.Children), i)
	}
	c := n.Children[i]
	if c.XMLName.Local != name {
		t.Fatalf("child %d = <%s %v>%s, want <%s>", i, c.XMLName.Local, c.Attrs, c.Text, name)
	}
	return c
}

func TestHandle_CreateAccounts(t *testing.T) {
	h := newTestHandler(t)

	res := handle(t, h, `<create>
		<account id="123" balance="1000"/>
		<account id="123" balance="9"/>
		<account id="12x" balance="10"/>
		<account id="456" balance="abc"/>
		<account id="789" balance="-5"/>
	</create>`)

	if len(res.Children) != 5 {
		t.Fatalf("children = %d, want 5", len(res.Children))
	}

	created := wantChild(t, res, 0, "created")
	if created.attr("id") != "123" {
		t.Errorf("created id = %q, want 123", created.attr("id"))
	}

	dup := wantChild(t, res, 1, "error")
	if dup.attr("id") != "123" || dup.Text != "Account already exists" {
		t.Errorf("duplicate error = %+v %q", dup.Attrs, dup.Text)
	}

	badID := wantChild(t, res, 2, "error")
	if badID.Text != "Account ID must be a sequence of one or more base-10 digits" {
		t.Errorf("bad id error = %q", badID.Text)
	}

	badNum := wantChild(t, res, 3, "error")
	if badNum.Text != "Invalid number: abc" {
		t.Errorf("bad balance error = %q", badNum.Text)
	}

	negative := wantChild(t, res, 4, "error")
	if negative.Text != "Initial balance cannot be negative" {
		t.Errorf("negative balance error = %q", negative.Text)
	}
}

func TestHandle_CreateSymbol(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create><account id="123" balance="1000"/></create>`)

	res := handle(t, h, `<create>
		<symbol sym="SPY">
			<account id="123">100000</account>
			<account id="999">5</account>
			<account id="123">abc</account>
			<account id="123">0</account>
		</symbol>
	</create>`)

	if len(res.Children) != 4 {
		t.Fatalf("children = %d, want 4", len(res.Children))
	}

	created := wantChild(t, res, 0, "created")
	if created.attr("sym") != "SPY" || created.attr("id") != "123" {
		t.Errorf("created attrs = %+v", created.Attrs)
	}

	missing := wantChild(t, res, 1, "error")
	if missing.Text != "Account 999 does not exist" {
		t.Errorf("missing account error = %q", missing.Text)
	}

	badNum := wantChild(t, res, 2, "error")
	if badNum.Text != "Invalid number: abc" {
		t.Errorf("bad amount error = %q", badNum.Text)
	}

	zero := wantChild(t, res, 3, "error")
	if zero.Text != "Position amount must be positive" {
		t.Errorf("zero amount error = %q", zero.Text)
	}

	// repeated credit tops up the same position
	handle(t, h, `<create><symbol sym="SPY"><account id="123">1</account></symbol></create>`)
	pos, err := h.store.GetPosition("123", "SPY")
	if err != nil || pos == nil {
		t.Fatalf("GetPosition: %v, %v", pos, err)
	}
	if pos.Amount.String() != "100001.000000000000000000" {
		t.Errorf("position after top-up = %s", pos.Amount)
	}
}

func TestHandle_TransactionsUnknownAccount(t *testing.T) {
	h := newTestHandler(t)

	res := handle(t, h, `<transactions id="999">
		<order sym="SPY" amount="100" limit="50"/>
		<query id="1"/>
		<cancel id="2"/>
	</transactions>`)

	if len(res.Children) != 3 {
		t.Fatalf("children = %d, want 3", len(res.Children))
	}
	for i := 0; i < 3; i++ {
		e := wantChild(t, res, i, "error")
		if e.Text != "Account not found" {
			t.Errorf("child %d message = %q", i, e.Text)
		}
	}
	// each error echoes its own child's attributes
	if e := res.Children[0]; e.attr("sym") != "SPY" || e.attr("amount") != "100" || e.attr("limit") != "50" {
		t.Errorf("order error attrs = %+v", res.Children[0].Attrs)
	}
	if e := res.Children[1]; e.attr("id") != "1" {
		t.Errorf("query error attrs = %+v", res.Children[1].Attrs)
	}
	if e := res.Children[2]; e.attr("id") != "2" {
		t.Errorf("cancel error attrs = %+v", res.Children[2].Attrs)
	}

	// same shape when the id attribute is absent entirely
	res = handle(t, h, `<transactions><query id="1"/></transactions>`)
	e := wantChild(t, res, 0, "error")
	if e.Text != "Account not found" {
		t.Errorf("missing-id message = %q", e.Text)
	}
}

func TestHandle_OrderLifecycle(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create>
		<account id="1" balance="100000"/>
		<account id="2" balance="0"/>
		<symbol sym="SYM"><account id="2">500</account></symbol>
	</create>`)

	// seller rests; the raw attribute strings come back on the open ack
	res := handle(t, h, `<transactions id="2"><order sym="SYM" amount="-100.50" limit="125.0"/></transactions>`)
	opened := wantChild(t, res, 0, "opened")
	if opened.attr("sym") != "SYM" || opened.attr("amount") != "-100.50" || opened.attr("limit") != "125.0" {
		t.Errorf("opened echo = %+v", opened.Attrs)
	}
	sellID := opened.attr("id")
	if sellID == "" {
		t.Fatal("opened reply missing id")
	}

	// buyer crosses at a worse limit; execution lands at the resting price
	res = handle(t, h, `<transactions id="1"><order sym="SYM" amount="100.50" limit="130"/></transactions>`)
	buyID := wantChild(t, res, 0, "opened").attr("id")

	res = handle(t, h, `<transactions id="1"><query id="`+buyID+`"/></transactions>`)
	status := wantChild(t, res, 0, "status")
	if status.attr("id") != buyID {
		t.Errorf("status id = %q, want %q", status.attr("id"), buyID)
	}
	exec := wantChild(t, status, 0, "executed")
	if exec.attr("shares") != "100.5" || exec.attr("price") != "125" {
		t.Errorf("executed attrs = %+v", exec.Attrs)
	}
	if exec.attr("time") == "" {
		t.Error("executed part missing time")
	}

	// seller's leg shows the same fill
	res = handle(t, h, `<transactions id="2"><query id="`+sellID+`"/></transactions>`)
	status = wantChild(t, res, 0, "status")
	exec = wantChild(t, status, 0, "executed")
	if exec.attr("shares") != "100.5" || exec.attr("price") != "125" {
		t.Errorf("seller executed attrs = %+v", exec.Attrs)
	}

	// permission boundary
	res = handle(t, h, `<transactions id="2"><query id="`+buyID+`"/></transactions>`)
	if e := wantChild(t, res, 0, "error"); e.Text != "Permission denied" {
		t.Errorf("foreign query = %q", e.Text)
	}
	res = handle(t, h, `<transactions id="1"><query id="424242"/></transactions>`)
	if e := wantChild(t, res, 0, "error"); e.Text != "Order not found" {
		t.Errorf("unknown query = %q", e.Text)
	}
	res = handle(t, h, `<transactions id="1"><query id="abc"/></transactions>`)
	if e := wantChild(t, res, 0, "error"); e.Text != "Invalid number: abc" {
		t.Errorf("bad id query = %q", e.Text)
	}
}

func TestHandle_OrderRejections(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create>
		<account id="1" balance="100"/>
		<symbol sym="SYM"><account id="1">10</account></symbol>
	</create>`)

	res := handle(t, h, `<transactions id="1">
		<order sym="SYM" amount="100" limit="50"/>
		<order sym="SYM" amount="-11" limit="50"/>
		<order sym="SYM" amount="0" limit="50"/>
		<order sym="SYM" amount="5" limit="-1"/>
		<order sym="SYM" amount="x" limit="50"/>
	</transactions>`)

	wantMsgs := []string{
		"Insufficient funds",
		"Insufficient shares",
		"Order amount cannot be zero",
		"Limit price cannot be negative",
		"Invalid number: x",
	}
	if len(res.Children) != len(wantMsgs) {
		t.Fatalf("children = %d, want %d", len(res.Children), len(wantMsgs))
	}
	for i, want := range wantMsgs {
		e := wantChild(t, res, i, "error")
		if e.Text != want {
			t.Errorf("child %d = %q, want %q", i, e.Text, want)
		}
		if e.attr("sym") != "SYM" {
			t.Errorf("child %d lost its attribute echo: %+v", i, e.Attrs)
		}
	}
}

func TestHandle_Cancel(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create>
		<account id="1" balance="100000"/>
		<account id="2" balance="0"/>
		<symbol sym="SYM"><account id="2">500</account></symbol>
	</create>`)

	res := handle(t, h, `<transactions id="1"><order sym="SYM" amount="100" limit="100"/></transactions>`)
	buyID := wantChild(t, res, 0, "opened").attr("id")

	// partial fill, then cancel the rest
	handle(t, h, `<transactions id="2"><order sym="SYM" amount="-30" limit="100"/></transactions>`)

	res = handle(t, h, `<transactions id="1"><cancel id="`+buyID+`"/></transactions>`)
	canceled := wantChild(t, res, 0, "canceled")
	if canceled.attr("id") != buyID {
		t.Errorf("canceled id = %q, want %q", canceled.attr("id"), buyID)
	}
	// canceled part first, then the execution history
	part := wantChild(t, canceled, 0, "canceled")
	if part.attr("shares") != "70" || part.attr("time") == "" {
		t.Errorf("canceled part = %+v", part.Attrs)
	}
	exec := wantChild(t, canceled, 1, "executed")
	if exec.attr("shares") != "30" || exec.attr("price") != "100" {
		t.Errorf("executed part = %+v", exec.Attrs)
	}

	// a second cancel has nothing left to kill
	res = handle(t, h, `<transactions id="1"><cancel id="`+buyID+`"/></transactions>`)
	if e := wantChild(t, res, 0, "error"); e.Text != "Order has no open shares to cancel" {
		t.Errorf("repeat cancel = %q", e.Text)
	}

	// query after cancel shows the same composite
	res = handle(t, h, `<transactions id="1"><query id="`+buyID+`"/></transactions>`)
	status := wantChild(t, res, 0, "status")
	if len(status.Children) != 2 {
		t.Fatalf("status children = %d, want 2", len(status.Children))
	}
	wantChild(t, status, 0, "canceled")
	wantChild(t, status, 1, "executed")
}

// Reply children come back in command order, successes and failures
// interleaved exactly as submitted.
func TestHandle_ReplyOrderMatchesRequest(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create>
		<account id="1" balance="100000"/>
		<symbol sym="SYM"><account id="1">100</account></symbol>
	</create>`)

	res := handle(t, h, `<transactions id="1">
		<order sym="SYM" amount="10" limit="10"/>
		<query id="nope"/>
		<cancel id="99999"/>
		<order sym="SYM" amount="-10" limit="10"/>
	</transactions>`)

	wantTags := []string{"opened", "error", "error", "opened"}
	if len(res.Children) != len(wantTags) {
		t.Fatalf("children = %d, want %d", len(res.Children), len(wantTags))
	}
	for i, tag := range wantTags {
		wantChild(t, res, i, tag)
	}
}

func TestHandle_StatusPartOrder(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create>
		<account id="1" balance="100000"/>
		<account id="2" balance="0"/>
		<symbol sym="SYM"><account id="2">500</account></symbol>
	</create>`)

	res := handle(t, h, `<transactions id="1"><order sym="SYM" amount="100" limit="100"/></transactions>`)
	buyID := wantChild(t, res, 0, "opened").attr("id")
	handle(t, h, `<transactions id="2"><order sym="SYM" amount="-30" limit="100"/></transactions>`)

	// partially filled: open part precedes the executions
	res = handle(t, h, `<transactions id="1"><query id="`+buyID+`"/></transactions>`)
	status := wantChild(t, res, 0, "status")
	open := wantChild(t, status, 0, "open")
	if open.attr("shares") != "70" {
		t.Errorf("open part = %+v", open.Attrs)
	}
	wantChild(t, status, 1, "executed")
}

func TestHandle_WholeRequestFailures(t *testing.T) {
	h := newTestHandler(t)

	cases := []struct {
		payload string
		want    string
	}{
		{`garbage`, `<results><error>Invalid XML</error></results>`},
		{`<create><account id="1" balance="10"/>`, `<results><error>Invalid XML</error></results>`},
		{`<simulate/>`, `<results><error>Unknown request type: simulate</error></results>`},
	}
	for _, tc := range cases {
		got := string(h.Handle([]byte(tc.payload)))
		if got != tc.want {
			t.Errorf("Handle(%q) = %s, want %s", tc.payload, got, tc.want)
		}
	}
}

func TestHandle_EmptyBlocks(t *testing.T) {
	h := newTestHandler(t)
	handle(t, h, `<create><account id="1" balance="10"/></create>`)

	for _, payload := range []string{`<create/>`, `<transactions id="1"/>`} {
		got := string(h.Handle([]byte(payload)))
		if got != `<results></results>` {
			t.Errorf("Handle(%q) = %s, want empty results", payload, got)
		}
	}
}

func TestHandle_EscapesReplyText(t *testing.T) {
	h := newTestHandler(t)

	// attribute values with markup significance come back escaped, not raw
	res := h.Handle([]byte(`<create><account id="1&lt;2" balance="10"/></create>`))
	if !strings.Contains(string(res), `id="1&lt;2"`) {
		t.Errorf("reply does not re-escape attribute: %s", res)
	}
	var n node
	if err := xml.Unmarshal(res, &n); err != nil {
		t.Fatalf("reply not parseable: %v\n%s", err, res)
	}
}
