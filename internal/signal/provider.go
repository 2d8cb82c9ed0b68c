// Package signal is the boundary to external decision makers.
package signal

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"trader/internal/adapter"
	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Provider produces a trading signal for a market context.
type Provider interface {
	Signal(ctx context.Context, mc model.MarketContext) (model.Signal, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, mc model.MarketContext) (model.Signal, error)

func (f ProviderFunc) Signal(ctx context.Context, mc model.MarketContext) (model.Signal, error) {
	return f(ctx, mc)
}

// Hold always answers HOLD.
var Hold = ProviderFunc(func(context.Context, model.MarketContext) (model.Signal, error) {
	return model.Signal{Reasoning: "hold"}, nil
})

const _defaultHTTPTimeout = 30 * time.Second

// HTTPProvider posts the market context as JSON to an external service and
// reads a model.Signal back.
type HTTPProvider struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

func NewHTTPProvider(client *http.Client, url string, timeout time.Duration) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = _defaultHTTPTimeout
	}
	return &HTTPProvider{client: client, url: url, timeout: timeout}
}

func (p *HTTPProvider) Signal(ctx context.Context, mc model.MarketContext) (model.Signal, error) {
	payload, err := sonic.Marshal(mc)
	if err != nil {
		return model.Signal{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return model.Signal{}, err
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(r)
	if err != nil {
		return model.Signal{}, adapter.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Signal{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return model.Signal{}, errors.Wrap(exception.ErrInResponseError, resp.Status+": "+strings.TrimSpace(string(raw)))
	}

	var out wireSignal
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return model.Signal{}, errors.Wrap(exception.ErrOrderDecodeResponseBody, err.Error())
	}
	return out.signal(), nil
}

type wireSignal struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// signal coerces an unknown action to HOLD instead of failing the decision.
func (w wireSignal) signal() model.Signal {
	var action enum.Action
	if err := action.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(w.Action)))); err != nil || !action.IsAvailable() {
		logs.Warnf("unknown signal action %q, using HOLD", w.Action)
		action = enum.ActionHold
	}
	return model.Signal{Action: action, Confidence: w.Confidence, Reasoning: w.Reasoning}.Normalize()
}
