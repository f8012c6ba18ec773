package protocol

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sdkerrors "cosmossdk.io/errors"
	"cosmossdk.io/log"

	"github.com/Matty-7/StockTradingSystem/exchange/engine"
	"github.com/Matty-7/StockTradingSystem/exchange/store"
	"github.com/Matty-7/StockTradingSystem/exchange/types"
	"github.com/Matty-7/StockTradingSystem/metrics"
)

// Handler executes parsed requests against the store and engine and
// renders replies. One handler serves every connection; it carries no
// per-request state.
type Handler struct {
	store   *store.Store
	engine  *engine.Engine
	logger  log.Logger
	metrics *metrics.Collector
}

// NewHandler creates a request handler
func NewHandler(st *store.Store, eng *engine.Engine, logger log.Logger) *Handler {
	return &Handler{
		store:  st,
		engine: eng,
		logger: logger.With("module", "protocol"),
	}
}

// SetMetrics attaches a metrics collector. Call before serving traffic.
func (h *Handler) SetMetrics(c *metrics.Collector) {
	h.metrics = c
}

// Handle processes one request payload and returns the reply document.
// Every payload gets a reply: child-level failures become error
// children, whole-request failures a single bare error element.
func (h *Handler) Handle(payload []byte) []byte {
	timer := metrics.NewTimer()

	req, err := Parse(payload)
	if err != nil {
		h.logger.Info("rejected request", "err", err, "bytes", len(payload))
		h.recordRequest("invalid", timer)
		var we *WireError
		if errors.As(err, &we) {
			return ErrorReply(we.Msg)
		}
		return ErrorReply("Error processing request: " + err.Error())
	}

	var reply []byte
	switch req.Kind {
	case KindCreate:
		reply = h.handleCreate(req)
		h.recordRequest("create", timer)
	default:
		reply = h.handleTransactions(req)
		h.recordRequest("transactions", timer)
	}
	return reply
}

func (h *Handler) recordRequest(kind string, timer *metrics.Timer) {
	if h.metrics != nil {
		h.metrics.RecordRequest(kind, timer.ElapsedMs())
	}
}

// handleCreate runs each child in order, each in its own transaction,
// so one failing child never disturbs its siblings.
func (h *Handler) handleCreate(req *Request) []byte {
	out := make([]elem, 0, len(req.Commands))
	for _, cmd := range req.Commands {
		switch c := cmd.(type) {
		case CreateAccount:
			out = append(out, h.createAccount(c))
		case CreateSymbol:
			out = append(out, h.createSymbol(c))
		case Invalid:
			out = append(out, errorWith(c.Attrs, c.Message))
		}
	}
	return encodeResults(out)
}

func (h *Handler) createAccount(c CreateAccount) elem {
	echo := []xml.Attr{attr("id", c.ID)}
	balance, err := types.ParseDec(c.Balance)
	if err != nil {
		return errorWith(echo, "Invalid number: "+c.Balance)
	}

	sc := h.store.Begin()
	defer sc.Rollback()
	if err := sc.CreateAccount(c.ID, balance); err != nil {
		return errorWith(echo, wireMessage(err))
	}
	if err := sc.Commit(); err != nil {
		return errorWith(echo, wireMessage(err))
	}
	return elem{name: "created", attrs: echo}
}

func (h *Handler) createSymbol(c CreateSymbol) elem {
	echo := []xml.Attr{attr("sym", c.Symbol), attr("id", c.AccountID)}
	amount, err := types.ParseDec(c.Amount)
	if err != nil {
		return errorWith(echo, "Invalid number: "+c.Amount)
	}

	sc := h.store.Begin()
	defer sc.Rollback()
	if err := sc.CreateSymbol(c.Symbol, c.AccountID, amount); err != nil {
		if sdkerrors.IsOf(err, types.ErrAccountNotExist) {
			return errorWith(echo, fmt.Sprintf("Account %s does not exist", c.AccountID))
		}
		return errorWith(echo, wireMessage(err))
	}
	if err := sc.Commit(); err != nil {
		return errorWith(echo, wireMessage(err))
	}
	return elem{name: "created", attrs: echo}
}

// handleTransactions resolves the account once, then runs each child
// in order. An unresolvable account fails every child with the same
// message, each echoing its own attributes.
func (h *Handler) handleTransactions(req *Request) []byte {
	out := make([]elem, 0, len(req.Commands))

	acct, err := h.store.GetAccount(req.Account)
	if err == nil && acct == nil {
		err = types.ErrAccountNotFound
	}
	if err != nil {
		msg := wireMessage(err)
		for _, cmd := range req.Commands {
			out = append(out, errorWith(echoAttrs(cmd), msg))
		}
		return encodeResults(out)
	}

	for _, cmd := range req.Commands {
		switch c := cmd.(type) {
		case PlaceOrder:
			out = append(out, h.placeOrder(req.Account, c))
		case QueryOrder:
			out = append(out, h.queryOrder(req.Account, c))
		case CancelOrder:
			out = append(out, h.cancelOrder(req.Account, c))
		case Invalid:
			out = append(out, errorWith(c.Attrs, c.Message))
		}
	}
	return encodeResults(out)
}

// echoAttrs rebuilds the attribute echo for a command's reply
func echoAttrs(cmd Command) []xml.Attr {
	switch c := cmd.(type) {
	case PlaceOrder:
		return []xml.Attr{attr("sym", c.Symbol), attr("amount", c.Amount), attr("limit", c.Limit)}
	case QueryOrder:
		return []xml.Attr{attr("id", c.ID)}
	case CancelOrder:
		return []xml.Attr{attr("id", c.ID)}
	case Invalid:
		return c.Attrs
	default:
		return nil
	}
}

func (h *Handler) placeOrder(account string, c PlaceOrder) elem {
	echo := echoAttrs(c)
	amount, err := types.ParseDec(c.Amount)
	if err != nil {
		return errorWith(echo, "Invalid number: "+c.Amount)
	}
	limit, err := types.ParseDec(c.Limit)
	if err != nil {
		return errorWith(echo, "Invalid number: "+c.Limit)
	}

	id, err := h.engine.PlaceOrder(account, c.Symbol, amount, limit)
	if err != nil {
		return errorWith(echo, wireMessage(err))
	}
	return elem{name: "opened", attrs: append(echo, attr("id", strconv.FormatUint(id, 10)))}
}

func (h *Handler) queryOrder(account string, c QueryOrder) elem {
	echo := echoAttrs(c)
	id, err := parseOrderID(c.ID)
	if err != nil {
		return errorWith(echo, "Invalid number: "+c.ID)
	}
	st, err := h.engine.Status(id, account)
	if err != nil {
		return errorWith(echo, wireMessage(err))
	}
	return elem{name: "status", attrs: echo, children: statusParts(st)}
}

func (h *Handler) cancelOrder(account string, c CancelOrder) elem {
	echo := echoAttrs(c)
	id, err := parseOrderID(c.ID)
	if err != nil {
		return errorWith(echo, "Invalid number: "+c.ID)
	}
	st, err := h.engine.Cancel(id, account)
	if err != nil {
		return errorWith(echo, wireMessage(err))
	}
	return elem{name: "canceled", attrs: echo, children: statusParts(st)}
}

// parseOrderID parses a base-10 order id attribute
func parseOrderID(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}
