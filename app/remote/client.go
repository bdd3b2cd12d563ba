package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/lysyi3m/timeline-sync/app/database"
	"github.com/lysyi3m/timeline-sync/app/service"
	"github.com/lysyi3m/timeline-sync/app/syncerr"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

const defaultMaxPayloadSize = 10 << 20

// ErrPayloadTooLarge is reported when a timeline body exceeds the configured limit
var ErrPayloadTooLarge = errors.New("timeline payload too large")

type Options struct {
	UserAgent string
	// RequestRate limits outbound requests per second across all workers; 0 disables the limit.
	RequestRate float64
	// BreakerThreshold is the number of consecutive failures that opens a
	// service's circuit; 0 disables the breaker.
	BreakerThreshold int
	BreakerDelay     time.Duration
	// MaxPayloadSize caps a timeline body in bytes; 0 means 10 MiB.
	MaxPayloadSize int64
	HTTPClient     *http.Client
}

// Client fetches account timelines. It is safe for concurrent use and keeps
// no per-account state.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxPayload int64
	limiter    *rate.Limiter
	feedParser *gofeed.Parser
	parserMu   sync.Mutex

	breakerThreshold uint
	breakerDelay     time.Duration
	breakers         map[int]circuitbreaker.CircuitBreaker[[]byte]
	breakersMu       sync.Mutex
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestRate > 0 {
		limit = rate.Limit(opts.RequestRate)
		burst = max(1, int(opts.RequestRate))
	}

	breakerDelay := opts.BreakerDelay
	if breakerDelay <= 0 {
		breakerDelay = 5 * time.Minute
	}

	maxPayload := opts.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayloadSize
	}

	return &Client{
		httpClient:       httpClient,
		userAgent:        opts.UserAgent,
		maxPayload:       maxPayload,
		limiter:          rate.NewLimiter(limit, burst),
		feedParser:       gofeed.NewParser(),
		breakerThreshold: uint(max(0, opts.BreakerThreshold)),
		breakerDelay:     breakerDelay,
		breakers:         make(map[int]circuitbreaker.CircuitBreaker[[]byte]),
	}
}

// FetchTimeline retrieves the recent statuses visible to the account, in the
// order the remote API returns them. Transport failures are TransientErrors;
// a malformed payload yields an empty result.
func (c *Client) FetchTimeline(ctx context.Context, svc *service.Service, account database.LinkedAccount) ([]Status, error) {
	logger := slog.With("service", svc.Name, "account", account.ID)

	body, err := c.fetch(ctx, svc, account)
	if err != nil {
		return nil, err
	}

	switch svc.Format {
	case service.FormatAtom, service.FormatRSS:
		// gofeed.Parser reuses internal translators and is not safe for concurrent use.
		c.parserMu.Lock()
		defer c.parserMu.Unlock()
		return decodeFeed(body, c.feedParser, logger), nil
	default:
		return decodeJSON(body, logger), nil
	}
}

// BreakerOpen reports whether requests to the service are currently short-circuited
func (c *Client) BreakerOpen(svc *service.Service) bool {
	cb := c.breaker(svc)
	return cb != nil && cb.IsOpen()
}

func (c *Client) fetch(ctx context.Context, svc *service.Service, account database.LinkedAccount) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, syncerr.NewTransient("wait for rate limiter", err)
	}

	cb := c.breaker(svc)
	if cb == nil {
		return c.get(ctx, svc, account)
	}

	body, err := failsafe.With(cb).WithContext(ctx).Get(func() ([]byte, error) {
		return c.get(ctx, svc, account)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, syncerr.NewTransient("fetch timeline", fmt.Errorf("service %s: %w", svc.Name, err))
	}
	return body, err
}

func (c *Client) get(ctx context.Context, svc *service.Service, account database.LinkedAccount) ([]byte, error) {
	if timeout := svc.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.TimelineFor(account.RemoteScreenName), nil)
	if err != nil {
		return nil, syncerr.NewFatal("build timeline request", err)
	}

	req.SetBasicAuth(account.RemoteScreenName, account.Credentials)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, syncerr.NewTransient("fetch timeline", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, syncerr.NewTransient("fetch timeline", fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	// One extra byte tells an oversized body apart from one exactly at the limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPayload+1))
	if err != nil {
		return nil, syncerr.NewTransient("read timeline", err)
	}
	if int64(len(body)) > c.maxPayload {
		return nil, syncerr.NewValidation("read timeline", fmt.Errorf("%w: exceeds %d bytes", ErrPayloadTooLarge, c.maxPayload))
	}

	return body, nil
}

func (c *Client) breaker(svc *service.Service) circuitbreaker.CircuitBreaker[[]byte] {
	if c.breakerThreshold == 0 {
		return nil
	}

	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	cb, ok := c.breakers[svc.ID]
	if !ok {
		name := svc.Name
		cb = circuitbreaker.NewBuilder[[]byte]().
			WithFailureThreshold(c.breakerThreshold).
			WithDelay(c.breakerDelay).
			OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
				slog.Warn("Circuit breaker state change", "service", name,
					"from_state", stateName(event.OldState), "to_state", stateName(event.NewState))
			}).
			Build()
		c.breakers[svc.ID] = cb
	}

	return cb
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
