package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
	"exgate/pkg/order"
)

// target holds the flags shared by every command talking to one exchange.
type target struct {
	exchange string
	pair     string
}

func newFlagSet(name string, t *target, withPair bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&t.exchange, "exchange", "e", "", "exchange name (binance, kucoin, kraken)")
	if withPair {
		fs.StringVarP(&t.pair, "pair", "p", "", "trading pair, e.g. BTC/USDT")
	}
	return fs
}

func (t *target) validate(needPair bool) error {
	if t.exchange == "" {
		return errors.New("--exchange is required")
	}
	if needPair && t.pair == "" {
		return errors.New("--pair is required")
	}
	return nil
}

func (t *target) client(a *app) (exchange.Client, error) {
	return a.registry.Create(t.exchange)
}

// optionalPair parses the pair flag, returning the zero pair when it is unset.
func (t *target) optionalPair() (core.Pair, error) {
	if t.pair == "" {
		return core.Pair{}, nil
	}
	return core.ParsePair(t.pair)
}

func runTicker(ctx context.Context, a *app, args []string) error {
	var t target
	fs := newFlagSet("ticker", &t, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := t.validate(true); err != nil {
		return err
	}
	pair, err := core.ParsePair(t.pair)
	if err != nil {
		return err
	}
	client, err := t.client(a)
	if err != nil {
		return err
	}

	ticker, err := client.FetchTicker(ctx, pair)
	if err != nil {
		return err
	}
	return printJSON(a.out, ticker)
}

func runPairs(_ context.Context, a *app, args []string) error {
	var t target
	fs := newFlagSet("pairs", &t, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := t.validate(false); err != nil {
		return err
	}

	pairs, err := a.registry.SupportedPairs(t.exchange)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		fmt.Fprintln(a.out, p.String())
	}
	return nil
}

func runOrder(ctx context.Context, a *app, args []string) error {
	var (
		t                                target
		side, orderType, price, qty, cid string
		wait                             bool
		interval                         time.Duration
	)
	fs := newFlagSet("order", &t, true)
	fs.StringVar(&side, "side", "buy", "buy or sell")
	fs.StringVar(&orderType, "type", "limit", "limit or market")
	fs.StringVar(&price, "price", "", "limit price")
	fs.StringVarP(&qty, "quantity", "q", "", "base quantity")
	fs.StringVar(&cid, "client-id", "", "idempotency key; generated when empty")
	fs.BoolVarP(&wait, "wait", "w", false, "poll until the order is terminal")
	fs.DurationVar(&interval, "interval", order.DefaultPollInterval, "poll interval with --wait")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := t.validate(true); err != nil {
		return err
	}

	s, err := core.ParseOrderSide(side)
	if err != nil {
		return err
	}
	ot, err := core.ParseOrderType(orderType)
	if err != nil {
		return err
	}
	b := order.NewBuilder(t.pair).Side(s).Type(ot).Quantity(qty).ClientOrderID(cid)
	if price != "" {
		b.Price(price)
	}
	req, err := b.Build()
	if err != nil {
		return err
	}

	client, err := t.client(a)
	if err != nil {
		return err
	}
	a.logger.Info().
		Str("exchange", client.Name()).
		Str("client_order_id", req.ClientOrderID).
		Msg("placing order")
	result, err := client.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(a.out, result); err != nil {
		return err
	}
	if !wait || result.Status.IsTerminal() {
		return nil
	}

	watcher := order.NewWatcher(client, interval, order.WithLogger(a.logger))
	q := &exchange.OrderQuery{Pair: result.Pair, OrderID: result.ExchangeOrderID}
	first := true
	for update, err := range watcher.Watch(ctx, q) {
		if err != nil {
			return err
		}
		// The first poll usually repeats the placement result.
		if first && update.Status == result.Status && update.FilledQuantity.Cmp(&result.FilledQuantity) == 0 {
			first = false
			continue
		}
		first = false
		if err := printJSON(a.out, update); err != nil {
			return err
		}
	}
	return nil
}

func runCancel(ctx context.Context, a *app, args []string) error {
	var (
		t  target
		id string
	)
	fs := newFlagSet("cancel", &t, true)
	fs.StringVar(&id, "id", "", "exchange order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := t.validate(false); err != nil {
		return err
	}
	if id == "" {
		return errors.New("--id is required")
	}
	pair, err := t.optionalPair()
	if err != nil {
		return err
	}
	client, err := t.client(a)
	if err != nil {
		return err
	}

	result, err := client.CancelOrder(ctx, &exchange.CancelRequest{Pair: pair, OrderID: id})
	if result != nil {
		if perr := printJSON(a.out, result); perr != nil {
			return perr
		}
	}
	return err
}

func runStatus(ctx context.Context, a *app, args []string) error {
	var (
		t       target
		id, cid string
	)
	fs := newFlagSet("status", &t, true)
	fs.StringVar(&id, "id", "", "exchange order id")
	fs.StringVar(&cid, "client-id", "", "client order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := t.validate(false); err != nil {
		return err
	}
	pair, err := t.optionalPair()
	if err != nil {
		return err
	}
	q := &exchange.OrderQuery{Pair: pair, OrderID: id, ClientOrderID: cid}
	if err := q.Validate(); err != nil {
		return errors.New("one of --id or --client-id is required")
	}
	client, err := t.client(a)
	if err != nil {
		return err
	}

	result, err := client.GetOrder(ctx, q)
	if err != nil {
		return err
	}
	return printJSON(a.out, result)
}

func runStream(ctx context.Context, a *app, args []string) error {
	var (
		t     target
		limit int
	)
	fs := newFlagSet("stream", &t, true)
	fs.IntVarP(&limit, "limit", "n", 0, "stop after n trades; 0 streams until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := t.validate(true); err != nil {
		return err
	}
	pair, err := core.ParsePair(t.pair)
	if err != nil {
		return err
	}
	client, err := t.client(a)
	if err != nil {
		return err
	}

	count := 0
	for trade, err := range client.StreamTrades(ctx, pair) {
		if err != nil {
			if exErr, ok := core.AsExchangeError(err); ok && exErr.Code == string(core.ErrCodeDecode) {
				a.logger.Warn().Err(err).Msg("skipping trade message")
				continue
			}
			return err
		}
		fmt.Fprintf(a.out, "%s %s %-4s %s @ %s\n",
			trade.Timestamp.Format(time.RFC3339Nano),
			trade.Pair, trade.Side, trade.Quantity.Text('f'), trade.Price.Text('f'))
		count++
		if limit > 0 && count >= limit {
			return nil
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
