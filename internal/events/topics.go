package events

// Topics emitted by checkout sessions.
const (
	TopicSessionOpened      = "checkout.session_opened"
	TopicCouponApplied      = "checkout.coupon_applied"
	TopicCouponRemoved      = "checkout.coupon_removed"
	TopicConversionFailed   = "checkout.conversion_failed"
	TopicOrderSubmitted     = "order.submitted"
	TopicPaymentConfirmed   = "payment.confirmed"
	TopicPaymentNotAccepted = "payment.not_accepted"
)

// DefaultTopics lists the topics forwarded to webhooks when none are configured.
func DefaultTopics() []string {
	return []string{
		TopicOrderSubmitted,
		TopicPaymentConfirmed,
		TopicPaymentNotAccepted,
	}
}
