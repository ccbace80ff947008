package okx

import "github.com/quantfold/swapbot/internal/domain"

// rejectReasons maps OKX v5 business codes to structured rejection reasons.
// Only codes the engine branches on need entries; everything else falls
// through to ReasonUnknown while preserving the raw code and message.
var rejectReasons = map[string]domain.RejectReason{
	// Parameter error. On one-way accounts this is what the venue returns
	// when an order carries a posSide tag, and the engine treats it as the
	// signal to retry untagged.
	"51000": domain.ReasonPosSideUnsupported,

	// Margin and balance.
	"51008": domain.ReasonInsufficientMargin,
	"51119": domain.ReasonInsufficientMargin,

	// Order validation.
	"51006": domain.ReasonInvalidParam, // price out of limit range
	"51020": domain.ReasonInvalidParam, // size below minimum

	// Cancellation raced the fill or an earlier cancel; the order no
	// longer exists in a cancelable state. Treated as success by callers.
	"51400": domain.ReasonOrderGone,
	"51401": domain.ReasonOrderGone,
	"51402": domain.ReasonOrderGone,
	"51410": domain.ReasonOrderGone,
	"51503": domain.ReasonOrderGone,
	"51603": domain.ReasonOrderGone, // query: order does not exist

	// Throttling.
	"50011": domain.ReasonRateLimited,
	"50013": domain.ReasonRateLimited,
}

// rejection builds a *domain.VenueRejection from an OKX business code.
func rejection(code, msg string) error {
	reason, ok := rejectReasons[code]
	if !ok {
		reason = domain.ReasonUnknown
	}
	return &domain.VenueRejection{Code: code, Reason: reason, Msg: msg}
}
