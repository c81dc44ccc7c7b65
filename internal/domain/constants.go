package domain

// PaymentIntent statuses. Succeeded and failed are terminal.
const (
	IntentPending          = "pending"
	IntentSucceeded        = "succeeded"
	IntentFailed           = "failed"
	IntentInitiationFailed = "initiation_failed"
)

const (
	OrderPaymentAwaiting  = "awaiting_payment"
	OrderPaymentCompleted = "completed"
	OrderPaymentFailed    = "failed"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
)

const (
	CurrencyKES    = "KES"
	MethodMpesaSTK = "mpesa_stk"
)

// Callback acknowledgements. ResultCode 0 means the callback was taken,
// not that the payment succeeded.
const (
	AckAccepted     = 0
	AckRejected     = 1
	AckDescAccepted = "Accepted"
	AckDescInvalid  = "Invalid callback payload"
	AckDescNotFound = "Payment record not found"
)

// IsTerminal reports whether no further callback transition applies.
func IsTerminal(status string) bool {
	return status == IntentSucceeded || status == IntentFailed
}

// Outcome maps a provider result code to the intent status it settles on.
func Outcome(resultCode int) string {
	if resultCode == 0 {
		return IntentSucceeded
	}
	return IntentFailed
}
