package model

import "time"

// Notification is an inbound IPN as posted by Splits. Nothing in it is trusted
// until the fingerprint has been verified.
type Notification struct {
	TransactionID string
	CurrentStatus string
	Fingerprint   string
	BoletoURL     string
}

func (n Notification) Complete() bool {
	return n.TransactionID != "" && n.CurrentStatus != "" && n.Fingerprint != ""
}

// StatusChangedEvent is published after a vendor status has been applied to an order.
type StatusChangedEvent struct {
	EventID       string       `json:"event_id"`
	OrderID       string       `json:"order_id"`
	TransactionID string       `json:"transaction_id"`
	VendorStatus  VendorStatus `json:"vendor_status"`
	From          OrderStatus  `json:"from"`
	To            OrderStatus  `json:"to"`
	Source        string       `json:"source"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

const (
	SourceCheckout     = "checkout"
	SourceNotification = "notification"
)
