package protocol

import (
	"bytes"
	"encoding/xml"
	"strconv"

	sdkerrors "cosmossdk.io/errors"

	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/types"
)

// elem is one reply element: a name, ordered attributes and either
// child elements or character data. Replies are assembled as elem
// trees and serialized through the XML encoder, never by string
// concatenation, so attribute values and text are always escaped.
type elem struct {
	name     string
	attrs    []xml.Attr
	text     string
	children []elem
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (e elem) encode(enc *xml.Encoder) {
	start := xml.StartElement{Name: xml.Name{Local: e.name}, Attr: e.attrs}
	_ = enc.EncodeToken(start)
	if e.text != "" {
		_ = enc.EncodeToken(xml.CharData(e.text))
	}
	for _, c := range e.children {
		c.encode(enc)
	}
	_ = enc.EncodeToken(start.End())
}

// encodeResults renders the standard results reply document
func encodeResults(children []elem) []byte {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	root := xml.StartElement{Name: xml.Name{Local: "results"}}
	_ = enc.EncodeToken(root)
	for _, c := range children {
		c.encode(enc)
	}
	_ = enc.EncodeToken(root.End())
	_ = enc.Flush()
	return buf.Bytes()
}

// ErrorReply renders a results document holding a single bare error,
// used for failures that invalidate the whole request.
func ErrorReply(msg string) []byte {
	return encodeResults([]elem{errorPlain(msg)})
}

func errorPlain(msg string) elem {
	return elem{name: "error", text: msg}
}

func errorWith(attrs []xml.Attr, msg string) elem {
	return elem{name: "error", attrs: attrs, text: msg}
}

// statusParts renders the composite body shared by query and cancel
// replies: the open part, then the canceled part, then every
// execution, times as integer unix seconds.
func statusParts(st *engine.OrderStatus) []elem {
	var parts []elem
	if st.Open != nil {
		parts = append(parts, elem{name: "open", attrs: []xml.Attr{
			attr("shares", types.FormatDec(st.Open.Shares)),
		}})
	}
	if st.Canceled != nil {
		parts = append(parts, elem{name: "canceled", attrs: []xml.Attr{
			attr("shares", types.FormatDec(st.Canceled.Shares)),
			attr("time", strconv.FormatInt(st.Canceled.At.Unix(), 10)),
		}})
	}
	for _, ex := range st.Executed {
		parts = append(parts, elem{name: "executed", attrs: []xml.Attr{
			attr("shares", types.FormatDec(ex.Shares)),
			attr("price", types.FormatDec(ex.Price)),
			attr("time", strconv.FormatInt(ex.At.Unix(), 10)),
		}})
	}
	return parts
}

// wireErrors are the domain errors whose registered message is the
// wire-visible text.
var wireErrors = []*sdkerrors.Error{
	types.ErrAccountExists,
	types.ErrInvalidAccountID,
	types.ErrNegativeBalance,
	types.ErrAccountNotFound,
	types.ErrInsufficientFunds,
	types.ErrInsufficientShare,
	types.ErrOrderNotFound,
	types.ErrPermissionDenied,
	types.ErrNoOpenShares,
	types.ErrZeroAmount,
	types.ErrNegativeLimit,
	types.ErrNonPositiveCredit,
}

// wireMessage maps a domain error to the text clients see. Anything
// outside the known set is an internal fault and gets the generic
// processing-error wrapper.
func wireMessage(err error) string {
	for _, sentinel := range wireErrors {
		if sdkerrors.IsOf(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Error processing request: " + err.Error()
}
