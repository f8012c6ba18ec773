package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A book of non-crossing orders rests in full: three buys below three
// sells, best buy 127 against best sell 128, so nothing trades.
func TestRestingBook(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create>
		<account id="1" balance="1000000"/>
		<account id="2" balance="1000000"/>
		<symbol sym="AMZN"><account id="2">100000</account></symbol>
	</create>`)

	res := c.RoundTrip(`<transactions id="1">
		<order sym="AMZN" amount="300" limit="125"/>
		<order sym="AMZN" amount="200" limit="127"/>
		<order sym="AMZN" amount="400" limit="125"/>
	</transactions>`)
	buyIDs := []string{res.OpenedID(t, 0), res.OpenedID(t, 1), res.OpenedID(t, 2)}

	res = c.RoundTrip(`<transactions id="2">
		<order sym="AMZN" amount="-100" limit="130"/>
		<order sym="AMZN" amount="-500" limit="128"/>
		<order sym="AMZN" amount="-200" limit="140"/>
	</transactions>`)
	sellIDs := []string{res.OpenedID(t, 0), res.OpenedID(t, 1), res.OpenedID(t, 2)}

	// all six remain fully open, nothing executed
	wantOpen := map[string]string{
		buyIDs[0]: "300", buyIDs[1]: "200", buyIDs[2]: "400",
	}
	for id, shares := range wantOpen {
		status := c.RoundTrip(`<transactions id="1"><query id="` + id + `"/></transactions>`).Child(t, 0, "status")
		require.Len(t, status.Children, 1, "order %s has extra parts", id)
		require.Equal(t, shares, status.Part(t, 0, "open").Attr("shares"))
	}
	wantOpen = map[string]string{
		sellIDs[0]: "100", sellIDs[1]: "500", sellIDs[2]: "200",
	}
	for id, shares := range wantOpen {
		status := c.RoundTrip(`<transactions id="2"><query id="` + id + `"/></transactions>`).Child(t, 0, "status")
		require.Len(t, status.Children, 1, "order %s has extra parts", id)
		require.Equal(t, shares, status.Part(t, 0, "open").Attr("shares"))
	}

	// escrow: buys cost 300*125 + 200*127 + 400*125 = 112900,
	// sells parked 800 shares
	require.True(t, ex.Balance(t, "1").Equal(dec(t, "887100")),
		"buyer balance = %s", ex.Balance(t, "1"))
	require.True(t, ex.Position(t, "2", "AMZN").Equal(dec(t, "99200")),
		"seller position = %s", ex.Position(t, "2", "AMZN"))
}

// A crossing sell sweeps the book in price-time order and every fill
// lands at the resting buy's price.
func TestCrossingFillsAtRestingPrice(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create>
		<account id="1" balance="1000000"/>
		<account id="2" balance="1000000"/>
		<symbol sym="AMZN"><account id="2">100000</account></symbol>
	</create>`)

	res := c.RoundTrip(`<transactions id="1">
		<order sym="AMZN" amount="300" limit="125"/>
		<order sym="AMZN" amount="200" limit="127"/>
		<order sym="AMZN" amount="400" limit="125"/>
	</transactions>`)
	k, k1 := res.OpenedID(t, 0), res.OpenedID(t, 1)

	res = c.RoundTrip(`<transactions id="2"><order sym="AMZN" amount="-400" limit="124"/></transactions>`)
	sellID := res.OpenedID(t, 0)

	// the taker filled in two legs: 200 @ 127 (best buy), 200 @ 125
	// (older buy at the next level)
	status := c.RoundTrip(`<transactions id="2"><query id="` + sellID + `"/></transactions>`).Child(t, 0, "status")
	require.Len(t, status.Children, 2, "sell parts: %+v", status.Children)
	first := status.Part(t, 0, "executed")
	require.Equal(t, "200", first.Attr("shares"))
	require.Equal(t, "127", first.Attr("price"))
	second := status.Part(t, 1, "executed")
	require.Equal(t, "200", second.Attr("shares"))
	require.Equal(t, "125", second.Attr("price"))

	// the 127 buy is gone, the older 125 buy keeps 100 open
	status = c.RoundTrip(`<transactions id="1"><query id="` + k1 + `"/></transactions>`).Child(t, 0, "status")
	require.Len(t, status.Children, 1)
	require.Equal(t, "127", status.Part(t, 0, "executed").Attr("price"))

	status = c.RoundTrip(`<transactions id="1"><query id="` + k + `"/></transactions>`).Child(t, 0, "status")
	require.Equal(t, "100", status.Part(t, 0, "open").Attr("shares"))
	require.Equal(t, "125", status.Part(t, 1, "executed").Attr("price"))

	// seller's proceeds: 200*127 + 200*125 = 50400 on top of 1000000
	require.True(t, ex.Balance(t, "2").Equal(dec(t, "1050400")),
		"seller balance = %s", ex.Balance(t, "2"))
	// buyers took delivery of 400 AMZN
	require.True(t, ex.Position(t, "1", "AMZN").Equal(dec(t, "400")),
		"buyer position = %s", ex.Position(t, "1", "AMZN"))
}

func TestInsufficientFunds(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create><account id="1" balance="50"/></create>`)

	res := c.RoundTrip(`<transactions id="1"><order sym="SPY" amount="10" limit="100"/></transactions>`)
	errNode := res.Child(t, 0, "error")
	require.Equal(t, "Insufficient funds", errNode.Text)
	require.Equal(t, "SPY", errNode.Attr("sym"))
	require.Equal(t, "10", errNode.Attr("amount"))
	require.Equal(t, "100", errNode.Attr("limit"))

	require.True(t, ex.Balance(t, "1").Equal(dec(t, "50")), "balance changed on rejection")
}

func TestCancelRefund(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create><account id="1" balance="200000"/></create>`)

	res := c.RoundTrip(`<transactions id="1"><order sym="GOOG" amount="100" limit="123"/></transactions>`)
	orderID := res.OpenedID(t, 0)
	require.True(t, ex.Balance(t, "1").Equal(dec(t, "187700")),
		"balance after escrow = %s", ex.Balance(t, "1"))

	res = c.RoundTrip(`<transactions id="1"><cancel id="` + orderID + `"/></transactions>`)
	canceled := res.Child(t, 0, "canceled")
	require.Equal(t, orderID, canceled.Attr("id"))
	require.Len(t, canceled.Children, 1, "canceled parts: %+v", canceled.Children)
	part := canceled.Part(t, 0, "canceled")
	require.Equal(t, "100", part.Attr("shares"))
	require.NotEmpty(t, part.Attr("time"))

	require.True(t, ex.Balance(t, "1").Equal(dec(t, "200000")),
		"balance after refund = %s", ex.Balance(t, "1"))

	// a later query reports the same canceled composite, no open part
	status := c.RoundTrip(`<transactions id="1"><query id="` + orderID + `"/></transactions>`).Child(t, 0, "status")
	require.Len(t, status.Children, 1)
	require.Equal(t, "100", status.Part(t, 0, "canceled").Attr("shares"))
}

func TestQueryPermission(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create>
		<account id="1" balance="100000"/>
		<account id="2" balance="100000"/>
	</create>`)

	orderID := c.RoundTrip(`<transactions id="2"><order sym="SPY" amount="10" limit="100"/></transactions>`).OpenedID(t, 0)

	res := c.RoundTrip(`<transactions id="1"><query id="` + orderID + `"/></transactions>`)
	errNode := res.Child(t, 0, "error")
	require.Equal(t, "Permission denied", errNode.Text)
	require.Equal(t, orderID, errNode.Attr("id"))

	res = c.RoundTrip(`<transactions id="1"><cancel id="` + orderID + `"/></transactions>`)
	require.Equal(t, "Permission denied", res.Child(t, 0, "error").Text)

	// the denied cancel left the order untouched
	require.True(t, ex.Balance(t, "2").Equal(dec(t, "99000")),
		"owner balance = %s", ex.Balance(t, "2"))
	status := c.RoundTrip(`<transactions id="2"><query id="` + orderID + `"/></transactions>`).Child(t, 0, "status")
	require.Equal(t, "10", status.Part(t, 0, "open").Attr("shares"))
}

func TestDuplicateAccount(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	res := c.RoundTrip(`<create><account id="123" balance="100"/></create>`)
	require.Equal(t, "123", res.Child(t, 0, "created").Attr("id"))

	res = c.RoundTrip(`<create><account id="123" balance="100"/></create>`)
	errNode := res.Child(t, 0, "error")
	require.Equal(t, "Account already exists", errNode.Text)
	require.Equal(t, "123", errNode.Attr("id"))

	// the original balance survives the rejected duplicate
	require.True(t, ex.Balance(t, "123").Equal(dec(t, "100")))
}

// One request mixing failures and successes: children are answered in
// input order and failures never abort their siblings.
func TestChildIsolation(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create>
		<account id="1" balance="10000"/>
		<symbol sym="SPY"><account id="1">100</account></symbol>
	</create>`)

	res := c.RoundTrip(`<transactions id="1">
		<order sym="SPY" amount="-10" limit="90"/>
		<order sym="SPY" amount="-200" limit="90"/>
		<query id="999"/>
		<order sym="SPY" amount="5" limit="80"/>
	</transactions>`)

	require.Len(t, res.Children, 4)
	res.Child(t, 0, "opened")
	require.Equal(t, "Insufficient shares", res.Child(t, 1, "error").Text)
	require.Equal(t, "Order not found", res.Child(t, 2, "error").Text)
	res.Child(t, 3, "opened")

	// the failing middle children changed nothing: only the two
	// accepted orders hold escrow
	require.True(t, ex.Position(t, "1", "SPY").Equal(dec(t, "90")))
	require.True(t, ex.Balance(t, "1").Equal(dec(t, "9600")))
}

// A transactions block for a nonexistent account errors every child,
// each echoing its own attributes.
func TestUnknownAccountBlock(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)
	_ = ex

	res := c.RoundTrip(`<transactions id="404">
		<order sym="SPY" amount="10" limit="100"/>
		<cancel id="1"/>
	</transactions>`)

	require.Len(t, res.Children, 2)
	first := res.Child(t, 0, "error")
	require.Equal(t, "Account not found", first.Text)
	require.Equal(t, "SPY", first.Attr("sym"))
	second := res.Child(t, 1, "error")
	require.Equal(t, "Account not found", second.Text)
	require.Equal(t, "1", second.Attr("id"))
}

// Order state survives a restart: a new engine rebuilt from the same
// store continues matching where the old one stopped.
func TestBookRebuild(t *testing.T) {
	ex := StartExchange(t)
	c := ex.Dial(t)

	Setup(t, c, `<create>
		<account id="1" balance="100000"/>
		<account id="2" balance="0"/>
		<symbol sym="SYM"><account id="2">1000</account></symbol>
	</create>`)

	buyID := c.RoundTrip(`<transactions id="1"><order sym="SYM" amount="100" limit="125"/></transactions>`).OpenedID(t, 0)

	// rebuild the books from the store, as the startup path does
	require.NoError(t, ex.Engine.RebuildBooks())

	// the rebuilt book still holds the buy: a crossing sell fills it
	c.RoundTrip(`<transactions id="2"><order sym="SYM" amount="-100" limit="120"/></transactions>`)
	status := c.RoundTrip(`<transactions id="1"><query id="` + buyID + `"/></transactions>`).Child(t, 0, "status")
	require.Len(t, status.Children, 1)
	exec := status.Part(t, 0, "executed")
	require.Equal(t, "100", exec.Attr("shares"))
	require.Equal(t, "125", exec.Attr("price"))
}
