package model

// AdminEmail holds format strings; the order number fills the first verb and
// the portal link the second.
type AdminEmail struct {
	Subject string
	Title   string
	Message string
}

// Transition describes how a vendor status moves a local order.
type Transition struct {
	Target OrderStatus
	// PaymentComplete marks the order paid instead of setting Target directly.
	PaymentComplete bool
	// SkipWhenPaid leaves processing/completed orders untouched.
	SkipWhenPaid bool
	// Note is recorded with the transition; %s receives the portal link when LinkInNote is set.
	Note       string
	LinkInNote bool
	Email      *AdminEmail
}

// TransitionFor maps every known vendor status to its local transition.
func TransitionFor(status VendorStatus) (Transition, bool) {
	switch status {
	case VendorAuthorized:
		return Transition{
			Target:       StatusOnHold,
			SkipWhenPaid: true,
			Note:         "Splits Tecnologia: The transaction was authorized.",
		}, true
	case VendorPendingReview:
		return Transition{
			Target:     StatusOnHold,
			Note:       "Splits Tecnologia: You should manually analyze this transaction to continue payment flow, access %s to do it!",
			LinkInNote: true,
		}, true
	case VendorProcessing:
		return Transition{
			Target: StatusOnHold,
			Note:   "Splits Tecnologia: The transaction is being processed.",
		}, true
	case VendorPaid:
		return Transition{
			Target:          StatusProcessing,
			PaymentComplete: true,
			SkipWhenPaid:    true,
			Note:            "Splits Tecnologia: Transaction paid.",
		}, true
	case VendorWaitingPayment:
		return Transition{
			Target: StatusOnHold,
			Note:   "Splits Tecnologia: The banking ticket was issued but not paid yet.",
		}, true
	case VendorRefused:
		return Transition{
			Target: StatusFailed,
			Note:   "Splits Tecnologia: The transaction was rejected by the card company or by fraud.",
			Email: &AdminEmail{
				Subject: "The transaction for order %s was rejected by the card company or by fraud",
				Title:   "Transaction failed",
				Message: "Order %s has been marked as failed, because the transaction was rejected by the card company or by fraud, for more details, see %s.",
			},
		}, true
	case VendorRefunded:
		return Transition{
			Target: StatusRefunded,
			Note:   "Splits Tecnologia: The transaction was refunded/canceled.",
			Email: &AdminEmail{
				Subject: "The transaction for order %s refunded",
				Title:   "Transaction refunded",
				Message: "Order %s has been marked as refunded by Splits Tecnologia, for more details, see %s.",
			},
		}, true
	}
	return Transition{}, false
}
