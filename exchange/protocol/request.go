// Package protocol implements the XML request surface of the exchange:
// parsing the create and transactions documents, dispatching commands
// against the store and engine, and rendering reply documents.
//
// Attribute values stay raw strings all the way to dispatch so error
// replies can echo exactly what the client sent.
package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	msgInvalidXML = "Invalid XML"
)

// Kind identifies the request document type
type Kind int

const (
	KindCreate Kind = iota + 1
	KindTransactions
)

// Request is one parsed client document
type Request struct {
	Kind     Kind
	Account  string // transactions only: the raw id attribute
	Commands []Command
}

// Command is one actionable child element of a request document
type Command interface {
	isCommand()
}

// CreateAccount opens a new account with a starting balance
type CreateAccount struct {
	ID      string
	Balance string
}

// CreateSymbol credits shares of a symbol to one account, creating the
// symbol on first use. A symbol element with several account children
// parses into one CreateSymbol per child.
type CreateSymbol struct {
	Symbol    string
	AccountID string
	Amount    string
}

// PlaceOrder submits a limit order
type PlaceOrder struct {
	Symbol string
	Amount string
	Limit  string
}

// QueryOrder asks for the status of an order
type QueryOrder struct {
	ID string
}

// CancelOrder cancels the open remainder of an order
type CancelOrder struct {
	ID string
}

// Invalid is a child that failed structural validation. It still
// produces a reply child, an error echoing the attributes that were
// present, without aborting its siblings.
type Invalid struct {
	Attrs   []xml.Attr
	Message string
}

func (CreateAccount) isCommand() {}
func (CreateSymbol) isCommand()  {}
func (PlaceOrder) isCommand()    {}
func (QueryOrder) isCommand()    {}
func (CancelOrder) isCommand()   {}
func (Invalid) isCommand()       {}

// WireError is a whole-request failure whose message goes verbatim
// into a bare error reply.
type WireError struct {
	Msg string
}

func (e *WireError) Error() string {
	return e.Msg
}

// Parse turns one request payload into a Request. A payload that is
// not a single well-formed XML document, or whose root element is not
// a known request type, fails as a whole with a *WireError.
func Parse(payload []byte) (*Request, error) {
	if !utf8.Valid(payload) {
		return nil, &WireError{Msg: msgInvalidXML}
	}
	if err := checkDocument(payload); err != nil {
		return nil, &WireError{Msg: msgInvalidXML}
	}

	dec := xml.NewDecoder(bytes.NewReader(payload))
	root, err := nextStart(dec)
	if err != nil {
		return nil, &WireError{Msg: msgInvalidXML}
	}

	switch root.Name.Local {
	case "create":
		return parseCreate(dec)
	case "transactions":
		return parseTransactions(dec, root)
	default:
		return nil, &WireError{Msg: "Unknown request type: " + root.Name.Local}
	}
}

// checkDocument verifies the payload is exactly one well-formed XML
// document: token decoding reaches EOF cleanly, one top-level element,
// no stray text around it. Parsing afterwards cannot hit a syntax
// error halfway through a half-handled request.
func checkDocument(payload []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	roots, depth := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if roots != 1 || depth != 0 {
				return fmt.Errorf("not a single-rooted document")
			}
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return fmt.Errorf("content after document element")
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("text outside document element")
			}
		}
	}
}

// nextStart consumes tokens until the next start element
func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

// attrValue returns an attribute's raw value and whether it was present
func attrValue(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func parseCreate(dec *xml.Decoder) (*Request, error) {
	req := &Request{Kind: KindCreate}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &WireError{Msg: msgInvalidXML}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "account":
				req.Commands = append(req.Commands, parseAccountCreate(dec, t))
			case "symbol":
				req.Commands = append(req.Commands, parseSymbolCreate(dec, t)...)
			default:
				// unrecognized children are skipped, not errors
				_ = dec.Skip()
			}
		case xml.EndElement:
			return req, nil
		}
	}
}

func parseAccountCreate(dec *xml.Decoder, start xml.StartElement) Command {
	id, hasID := attrValue(start, "id")
	balance, hasBalance := attrValue(start, "balance")
	_ = dec.Skip()

	switch {
	case !hasID:
		return Invalid{Attrs: start.Attr, Message: "Missing attribute: id"}
	case !hasBalance:
		return Invalid{Attrs: start.Attr, Message: "Missing attribute: balance"}
	}
	return CreateAccount{ID: id, Balance: balance}
}

func parseSymbolCreate(dec *xml.Decoder, start xml.StartElement) []Command {
	sym, hasSym := attrValue(start, "sym")
	if !hasSym {
		_ = dec.Skip()
		return []Command{Invalid{Attrs: start.Attr, Message: "Missing attribute: sym"}}
	}

	var cmds []Command
	for {
		tok, err := dec.Token()
		if err != nil {
			return cmds
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "account" {
				_ = dec.Skip()
				continue
			}
			id, hasID := attrValue(t, "id")
			amount := collectText(dec)
			if !hasID {
				attrs := append([]xml.Attr{{Name: xml.Name{Local: "sym"}, Value: sym}}, t.Attr...)
				cmds = append(cmds, Invalid{Attrs: attrs, Message: "Missing attribute: id"})
				continue
			}
			cmds = append(cmds, CreateSymbol{Symbol: sym, AccountID: id, Amount: strings.TrimSpace(amount)})
		case xml.EndElement:
			return cmds
		}
	}
}

// collectText gathers character data until the current element closes,
// ignoring any nested markup.
func collectText(dec *xml.Decoder) string {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return sb.String()
		}
		switch t := tok.(type) {
		case xml.CharData:
			if depth == 0 {
				sb.Write(t)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return sb.String()
			}
			depth--
		}
	}
}

func parseTransactions(dec *xml.Decoder, root xml.StartElement) (*Request, error) {
	// a missing id attribute is not a parse error: dispatch resolves
	// the empty account to "not found" per child
	id, _ := attrValue(root, "id")
	req := &Request{Kind: KindTransactions, Account: id}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &WireError{Msg: msgInvalidXML}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if cmd := parseTransaction(dec, t); cmd != nil {
				req.Commands = append(req.Commands, cmd)
			}
		case xml.EndElement:
			return req, nil
		}
	}
}

func parseTransaction(dec *xml.Decoder, start xml.StartElement) Command {
	switch start.Name.Local {
	case "order":
		sym, hasSym := attrValue(start, "sym")
		amount, hasAmount := attrValue(start, "amount")
		limit, hasLimit := attrValue(start, "limit")
		_ = dec.Skip()
		switch {
		case !hasSym:
			return Invalid{Attrs: start.Attr, Message: "Missing attribute: sym"}
		case !hasAmount:
			return Invalid{Attrs: start.Attr, Message: "Missing attribute: amount"}
		case !hasLimit:
			return Invalid{Attrs: start.Attr, Message: "Missing attribute: limit"}
		}
		return PlaceOrder{Symbol: sym, Amount: amount, Limit: limit}

	case "query", "cancel":
		id, hasID := attrValue(start, "id")
		name := start.Name.Local
		_ = dec.Skip()
		if !hasID {
			return Invalid{Attrs: start.Attr, Message: "Missing attribute: id"}
		}
		if name == "query" {
			return QueryOrder{ID: id}
		}
		return CancelOrder{ID: id}

	default:
		_ = dec.Skip()
		return nil
	}
}
