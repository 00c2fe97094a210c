package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-settlement/internal/conversion"
	"github.com/noah-isme/checkout-settlement/internal/coupon"
	"github.com/noah-isme/checkout-settlement/internal/events"
	"github.com/noah-isme/checkout-settlement/internal/money"
	"github.com/noah-isme/checkout-settlement/internal/obs"
	"github.com/noah-isme/checkout-settlement/internal/policy"
	"github.com/noah-isme/checkout-settlement/internal/pricing"
	"github.com/noah-isme/checkout-settlement/internal/settlement"
	"github.com/noah-isme/checkout-settlement/internal/submission"
)

var (
	// ErrNoConversion is returned by RetryConversion when the active method settles in the base currency.
	ErrNoConversion = errors.New("checkout: active payment method needs no conversion")
	// ErrNoPaymentMethod is returned by operations that need a selected method.
	ErrNoPaymentMethod = errors.New("checkout: no payment method selected")
	// ErrAlreadySubmitted rejects a second submission of the same session.
	ErrAlreadySubmitted = errors.New("checkout: session already submitted")
)

// Dispatcher runs a conversion task. The default starts a goroutine.
type Dispatcher func(task func())

// GoDispatcher runs every task on its own goroutine.
func GoDispatcher(task func()) { go task() }

// Options are the collaborators a session needs.
type Options struct {
	Registry          *policy.Registry
	Catalog           coupon.Catalog
	Converter         conversion.Converter
	Dispatch          Dispatcher
	ConversionTimeout time.Duration
	Events            *events.Bus
	Logger            zerolog.Logger
}

// Session owns the settlement state of one checkout. Every mutation goes
// through its methods; conversion outcomes re-enter through HandleResult and
// HandleFailure.
type Session struct {
	id    string
	quote pricing.Quote
	buyer policy.Buyer
	order submission.Order
	opts  Options
	coord *conversion.Coordinator

	mu         sync.Mutex
	resolution *policy.Resolution
	panelOpen  bool
	cod        bool
	applied    coupon.Applied
	pending    int
	submitted  bool
	touched    time.Time
}

// NewSession validates the quote and returns an idle session.
func NewSession(id string, quote pricing.Quote, buyer policy.Buyer, order submission.Order, opts Options) (*Session, error) {
	if err := quote.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		return nil, errors.New("checkout: policy registry is required")
	}
	if opts.Dispatch == nil {
		opts.Dispatch = GoDispatcher
	}
	logger := opts.Logger.With().Str("session_id", id).Logger()
	opts.Logger = logger
	if len(order.Items) == 0 {
		order.Items = quote.Items
	}
	return &Session{
		id:      id,
		quote:   quote,
		buyer:   buyer,
		order:   order,
		opts:    opts,
		coord:   conversion.NewCoordinator(logger),
		touched: time.Now(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Quote returns the immutable order preview.
func (s *Session) Quote() pricing.Quote { return s.quote }

// SelectPaymentMethod resolves the method and, when it needs a conversion,
// issues a new request. Re-selecting the current method while its conversion is
// loading or ready issues nothing and toggles the currency panel of expandable
// methods instead.
func (s *Session) SelectPaymentMethod(ctx context.Context, key string) error {
	s.mu.Lock()
	if err := s.frozenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.resolution != nil {
		if m, ok := s.opts.Registry.Lookup(key); ok && m.Key == s.resolution.Method.Key && s.settledLocked() {
			if m.Expandable {
				s.panelOpen = !s.panelOpen
			}
			s.touchLocked()
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	res, err := s.opts.Registry.Resolve(ctx, key, s.quote.Currency, s.buyer)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frozenLocked(); err != nil {
		return err
	}
	if prev := s.resolution; prev != nil && prev.Method.Key == res.Method.Key && res.UserSelectable {
		if kept, err := res.WithCurrency(prev.Currency); err == nil {
			res = kept
		}
	}
	s.resolution = &res
	s.panelOpen = res.Method.Expandable
	s.touchLocked()
	s.opts.Logger.Info().
		Str("payment_method", res.Method.Key).
		Str("policy", policy.Name(res.Method.Policy)).
		Str("currency", res.Currency.String()).
		Bool("fell_back", res.FellBack).
		Msg("payment_method_selected")
	if !res.NeedsConversion {
		s.coord.Reset()
		return nil
	}
	s.convertLocked(ctx)
	return nil
}

// SelectCurrency switches a user-choice method to code and re-converts.
func (s *Session) SelectCurrency(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frozenLocked(); err != nil {
		return err
	}
	if s.resolution == nil {
		return ErrNoPaymentMethod
	}
	next, err := s.resolution.WithCurrency(money.ParseCode(code))
	if err != nil {
		return fmt.Errorf("%w: %s for %s", err, code, s.resolution.Method.Key)
	}
	s.touchLocked()
	if next.Currency == s.resolution.Currency && s.settledLocked() {
		return nil
	}
	s.resolution = &next
	s.convertLocked(ctx)
	return nil
}

// SetCOD toggles cash on delivery. The converted figures cover every leg, so no
// new conversion is needed.
func (s *Session) SetCOD(cod bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frozenLocked(); err != nil {
		return err
	}
	s.cod = cod
	s.touchLocked()
	return nil
}

// ApplyCoupon looks the code up and adds it to the applied set. While the
// lookup runs the session cannot be submitted.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (coupon.Coupon, error) {
	code = coupon.NormaliseCode(code)
	s.mu.Lock()
	if err := s.frozenLocked(); err != nil {
		s.mu.Unlock()
		return coupon.Coupon{}, err
	}
	if s.applied.Has(code) {
		s.mu.Unlock()
		recordCoupon("duplicate")
		return coupon.Coupon{}, fmt.Errorf("%w: %s", coupon.ErrAlreadyApplied, code)
	}
	if s.opts.Catalog == nil {
		s.mu.Unlock()
		return coupon.Coupon{}, fmt.Errorf("%w: coupon catalog not configured", coupon.ErrInvalidCoupon)
	}
	s.pending++
	s.mu.Unlock()

	c, lookupErr := s.opts.Catalog.Lookup(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	s.touchLocked()
	if err := s.frozenLocked(); err != nil {
		return coupon.Coupon{}, err
	}
	if lookupErr != nil {
		recordCoupon("invalid")
		s.opts.Logger.Info().Err(lookupErr).Str("coupon", code).Msg("coupon_rejected")
		return coupon.Coupon{}, lookupErr
	}
	next, err := s.applied.Apply(c)
	if err != nil {
		recordCoupon("duplicate")
		return coupon.Coupon{}, err
	}
	s.applied = next
	recordCoupon("applied")
	s.opts.Logger.Info().Str("coupon", c.Code).Int("applied", next.Len()).Msg("coupon_applied")
	s.reconvertLocked(ctx)
	return c, nil
}

// RemoveCoupon drops code; removing an absent code is a no-op that reports false.
func (s *Session) RemoveCoupon(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frozenLocked(); err != nil {
		return false, err
	}
	if !s.applied.Has(code) {
		return false, nil
	}
	s.applied = s.applied.Remove(code)
	s.touchLocked()
	recordCoupon("removed")
	s.reconvertLocked(ctx)
	return true, nil
}

// RetryConversion issues a fresh token for the active method.
func (s *Session) RetryConversion(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frozenLocked(); err != nil {
		return err
	}
	if s.resolution == nil {
		return ErrNoPaymentMethod
	}
	if !s.resolution.NeedsConversion {
		return ErrNoConversion
	}
	s.touchLocked()
	s.convertLocked(ctx)
	return nil
}

// HandleResult feeds a conversion outcome back into the session. Stale results
// return conversion.ErrStaleConversion and change nothing.
func (s *Session) HandleResult(res conversion.Result) error {
	return s.coord.Accept(res)
}

// HandleFailure records a failed conversion for token.
func (s *Session) HandleFailure(token uint64, cause error) error {
	return s.coord.Fail(token, cause)
}

// DisplayAmounts returns the figures to show the buyer.
func (s *Session) DisplayAmounts() (settlement.Amounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settlement.Calculate(settlement.Input{
		Breakdown:  s.breakdownLocked(),
		Resolution: s.resolution,
		Conversion: s.coord.State(),
		COD:        s.cod,
	})
}

// CanSubmit reports whether BuildSubmission would pass its local checks.
func (s *Session) CanSubmit() bool {
	_, err := s.BuildSubmission()
	return err == nil
}

// BuildSubmission assembles the order payload.
func (s *Session) BuildSubmission() (submission.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return submission.Payload{}, fmt.Errorf("%w: %w", submission.ErrSubmissionPrecondition, ErrAlreadySubmitted)
	}
	return submission.Assemble(s.inputLocked())
}

// Submit sends the order through submitter. A session is submitted at most once.
func (s *Session) Submit(ctx context.Context, submitter *submission.Submitter, phone string) (submission.Receipt, error) {
	s.mu.Lock()
	if s.submitted {
		s.mu.Unlock()
		return submission.Receipt{}, fmt.Errorf("%w: %w", submission.ErrSubmissionPrecondition, ErrAlreadySubmitted)
	}
	in := s.inputLocked()
	if err := submission.Check(in); err != nil {
		s.mu.Unlock()
		return submission.Receipt{}, err
	}
	// Hold the slot so a concurrent Submit is rejected while the order is created.
	s.submitted = true
	s.mu.Unlock()

	receipt, err := submitter.Submit(ctx, in, phone)
	if err != nil && receipt.Order.OrderID == "" {
		s.mu.Lock()
		s.submitted = false
		s.mu.Unlock()
	}
	return receipt, err
}

// Snapshot captures the session for rendering.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.coord.State()
	snap := Snapshot{
		ID:             s.id,
		Quote:          s.quote,
		Breakdown:      s.breakdownLocked(),
		COD:            s.cod,
		PanelOpen:      s.panelOpen,
		Coupons:        s.applied.Coupons(),
		PendingCoupons: s.pending,
		Conversion:     st,
		Submitted:      s.submitted,
	}
	if s.resolution != nil {
		r := *s.resolution
		snap.Resolution = &r
	}
	snap.Amounts, snap.AmountsErr = settlement.Calculate(settlement.Input{
		Breakdown:  snap.Breakdown,
		Resolution: snap.Resolution,
		Conversion: st,
		COD:        s.cod,
	})
	if !s.submitted {
		_, snap.SubmitErr = submission.Assemble(s.inputLocked())
	} else {
		snap.SubmitErr = ErrAlreadySubmitted
	}
	return snap
}

// LastTouched reports when the session last changed.
func (s *Session) LastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) inputLocked() submission.Input {
	var res *policy.Resolution
	if s.resolution != nil {
		r := *s.resolution
		res = &r
	}
	return submission.Input{
		Resolution:     res,
		Conversion:     s.coord.State(),
		PendingCoupons: s.pending,
		Breakdown:      s.breakdownLocked(),
		COD:            s.cod,
		CouponCodes:    s.applied.Codes(),
		Buyer:          s.buyer,
		Order:          s.order,
	}
}

func (s *Session) breakdownLocked() pricing.Breakdown {
	q := s.quote
	discount := coupon.ComputeDiscount(q.Subtotal, q.DomesticShippingFee, s.applied)
	return pricing.Apply(q, discount)
}

// settledLocked reports whether the current method needs no new request.
func (s *Session) settledLocked() bool {
	if s.resolution == nil {
		return false
	}
	if !s.resolution.NeedsConversion {
		return true
	}
	st := s.coord.State()
	switch st.Status {
	case conversion.Loading:
		return st.Pending != nil && st.Pending.To == s.resolution.Currency
	case conversion.Ready:
		return st.ReadyFor(s.resolution.Currency)
	default:
		return false
	}
}

func (s *Session) reconvertLocked(ctx context.Context) {
	if s.resolution != nil && s.resolution.NeedsConversion {
		s.convertLocked(ctx)
	}
}

// convertLocked issues a request for the discounted amounts and dispatches it.
func (s *Session) convertLocked(ctx context.Context) {
	b := s.breakdownLocked()
	req := s.coord.Begin(s.quote.Currency, s.resolution.Currency, conversion.Amounts{
		Subtotal:            b.Subtotal,
		DomesticShippingFee: b.DomesticShippingFee,
		ShippingFee:         b.InternationalShippingFee,
	})
	// The request outlives the HTTP call that triggered it.
	base := context.WithoutCancel(ctx)
	conv, timeout, logger, bus := s.opts.Converter, s.opts.ConversionTimeout, s.opts.Logger, s.opts.Events
	s.opts.Dispatch(func() {
		callCtx, cancel := base, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(base, timeout)
		}
		defer cancel()
		res, err := conversion.Execute(callCtx, conv, req)
		if err != nil {
			if failErr := s.HandleFailure(req.Token, err); failErr == nil {
				logger.Warn().Err(err).Uint64("token", req.Token).Msg("conversion_request_failed")
				if _, emitErr := bus.Emit(base, events.TopicConversionFailed, s.id, map[string]any{
					"token": req.Token,
					"from":  req.From,
					"to":    req.To,
					"error": err.Error(),
				}); emitErr != nil {
					logger.Warn().Err(emitErr).Msg("event_emit_failed")
				}
			}
			return
		}
		_ = s.HandleResult(res)
	})
}

func (s *Session) touchLocked() { s.touched = time.Now() }

// frozenLocked rejects edits once a submission is in flight or done.
func (s *Session) frozenLocked() error {
	if s.submitted {
		return fmt.Errorf("%w: %w", submission.ErrSubmissionPrecondition, ErrAlreadySubmitted)
	}
	return nil
}

func recordCoupon(result string) {
	if obs.CouponApplyTotal != nil {
		obs.CouponApplyTotal.WithLabelValues(result).Inc()
	}
}
