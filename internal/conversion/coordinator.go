package conversion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/obs"
)

var (
	// ErrStaleConversion marks an outcome whose token was superseded. It is never user-visible.
	ErrStaleConversion = errors.New("conversion: stale response discarded")
	// ErrConversionFailed wraps a backend or validation failure on the current token.
	ErrConversionFailed = errors.New("conversion: failed")
	// ErrMalformedResult is returned when a result does not match its request.
	ErrMalformedResult = errors.New("conversion: malformed result")
)

// Status is the coordinator state.
type Status int

const (
	// Idle means no conversion is needed or none was requested.
	Idle Status = iota
	// Loading means a request for the current token is in flight.
	Loading
	// Ready means the current token has an accepted result.
	Ready
	// Failed means the current token failed; a retry issues a new token.
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// Amounts are the three quote figures that travel through a conversion.
type Amounts struct {
	Subtotal            money.Money
	DomesticShippingFee money.Money
	ShippingFee         money.Money
}

// Currencies reports whether all three amounts are in code.
func (a Amounts) Currencies(code money.Code) bool {
	return a.Subtotal.Currency == code && a.DomesticShippingFee.Currency == code && a.ShippingFee.Currency == code
}

// Request asks the backend to convert Amounts from one currency to another.
type Request struct {
	Token   uint64
	From    money.Code
	To      money.Code
	Amounts Amounts
}

// Result carries converted amounts for the request with the same token.
type Result struct {
	Token     uint64
	From      money.Code
	To        money.Code
	Converted Amounts
}

// State is a snapshot of the coordinator.
type State struct {
	Status Status
	// Token is the most recently issued token.
	Token uint64
	// Pending is the request for Token while Loading or Failed.
	Pending *Request
	// Result is the latest accepted result. While Loading or Failed it belongs to a
	// superseded token and is only fit for display.
	Result *Result
	Err    error
}

// ReadyFor reports whether the state holds an accepted result for the current token in currency to.
func (s State) ReadyFor(to money.Code) bool {
	return s.Status == Ready && s.Result != nil && s.Result.Token == s.Token && s.Result.To == to
}

// Coordinator issues conversion requests keyed by a monotonically increasing
// token and accepts only outcomes for the most recent one.
type Coordinator struct {
	mu      sync.Mutex
	counter uint64
	state   State
	logger  zerolog.Logger
}

// NewCoordinator returns an Idle coordinator.
func NewCoordinator(logger zerolog.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// Begin supersedes every outstanding request and enters Loading with a new token.
// The previously accepted result is kept for display.
func (c *Coordinator) Begin(from, to money.Code, amounts Amounts) Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	req := Request{Token: c.counter, From: from, To: to, Amounts: amounts}
	c.state = State{Status: Loading, Token: req.Token, Pending: &req, Result: c.state.Result}
	c.logger.Debug().Uint64("token", req.Token).Str("from", from.String()).Str("to", to.String()).Msg("conversion_issued")
	record("issued")
	return req
}

// Accept moves to Ready when res belongs to the current token. Outcomes for
// superseded tokens leave the state untouched and return ErrStaleConversion.
func (c *Coordinator) Accept(res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(res.Token) {
		c.logger.Debug().Uint64("token", res.Token).Uint64("current", c.state.Token).Msg("conversion_stale")
		record("stale")
		return ErrStaleConversion
	}
	pending := c.state.Pending
	if err := validate(*pending, res); err != nil {
		c.failLocked(err)
		return err
	}
	accepted := res
	c.state = State{Status: Ready, Token: res.Token, Result: &accepted}
	c.logger.Debug().Uint64("token", res.Token).Str("to", res.To.String()).Msg("conversion_accepted")
	record("accepted")
	return nil
}

// Fail moves to Failed when token is current; otherwise it returns ErrStaleConversion.
func (c *Coordinator) Fail(token uint64, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(token) {
		record("stale")
		return ErrStaleConversion
	}
	err := cause
	if !errors.Is(err, ErrConversionFailed) {
		err = fmt.Errorf("%w: %w", ErrConversionFailed, cause)
	}
	c.failLocked(err)
	return nil
}

// Reset enters Idle. Outstanding requests become stale and the retained result is dropped.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Status: Idle, Token: c.state.Token}
}

// State returns a snapshot of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

func (c *Coordinator) currentLocked(token uint64) bool {
	return c.state.Status == Loading && c.state.Pending != nil && c.state.Token == token
}

func (c *Coordinator) failLocked(err error) {
	c.state = State{Status: Failed, Token: c.state.Token, Pending: c.state.Pending, Result: c.state.Result, Err: err}
	c.logger.Warn().Err(err).Uint64("token", c.state.Token).Msg("conversion_failed")
	record("failed")
}

func validate(req Request, res Result) error {
	if res.To != req.To || (res.From != "" && res.From != req.From) {
		return fmt.Errorf("%w: %w: got %s->%s, requested %s->%s", ErrConversionFailed, ErrMalformedResult, res.From, res.To, req.From, req.To)
	}
	if !res.Converted.Currencies(req.To) {
		return fmt.Errorf("%w: %w: converted amounts not in %s", ErrConversionFailed, ErrMalformedResult, req.To)
	}
	for _, m := range []money.Money{res.Converted.Subtotal, res.Converted.DomesticShippingFee, res.Converted.ShippingFee} {
		if m.IsNegative() {
			return fmt.Errorf("%w: %w: negative converted amount %s", ErrConversionFailed, ErrMalformedResult, m)
		}
	}
	return nil
}

func record(result string) {
	if obs.ConversionRequestsTotal != nil {
		obs.ConversionRequestsTotal.WithLabelValues(result).Inc()
	}
}
