package price

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"walletsync/pkg/config"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

var (
	ErrStatus    = errors.New("unexpected status")
	ErrMalformed = errors.New("malformed price response")
)

// Source fetches the current quote for one symbol.
type Source interface {
	Symbol() string
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// HTTPSource reads a quote from a JSON endpoint, for example an exchange
// ticker answering {"ticker":{"latest":"2.5"}} with path "ticker.latest".
type HTTPSource struct {
	symbol  string
	url     string
	path    []interface{}
	client  *fasthttp.Client
	timeout time.Duration
}

func NewHTTPSource(cfg config.PriceSourceConfig, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		symbol:  cfg.Symbol,
		url:     cfg.URL,
		path:    splitPath(cfg.Path),
		client:  &fasthttp.Client{Name: "walletsync"},
		timeout: timeout,
	}
}

func (s *HTTPSource) Symbol() string {
	return s.symbol
}

func (s *HTTPSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = s.client.DoDeadline(req, resp, deadline)
	} else {
		err = s.client.DoTimeout(req, resp, s.timeout)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("request to %s: %w", s.url, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return decimal.Zero, fmt.Errorf("%w %d from %s", ErrStatus, code, s.url)
	}
	return ParsePrice(resp.Body(), s.path...)
}

// ParsePrice extracts a positive price at path. The field may be a JSON
// string or a JSON number.
func ParsePrice(body []byte, path ...interface{}) (decimal.Decimal, error) {
	v := jsoniter.Get(body, path...)
	if err := v.LastError(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raw string
	switch v.ValueType() {
	case jsoniter.StringValue, jsoniter.NumberValue:
		raw = strings.TrimSpace(v.ToString())
	default:
		return decimal.Zero, fmt.Errorf("%w: no price at %v", ErrMalformed, path)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrMalformed, raw)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrMalformed, price)
	}
	return price, nil
}

func splitPath(path string) []interface{} {
	var out []interface{}
	for _, p := range strings.Split(path, ".") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
