package gateway

// Wire types for the payment gateway. Field names follow the gateway's JSON
// contract: tx_ref is our correlation token, id is the gateway transaction id.

const (
	// TxStatusSuccessful is the only gateway status that settles an order as paid.
	TxStatusSuccessful = "successful"
	// TxStatusFailed is a terminal gateway failure.
	TxStatusFailed = "failed"
	// TxStatusCancelled is terminal: reported when the user backs out.
	TxStatusCancelled = "cancelled"
	// TxStatusPending means the charge is still in flight (mobile money, bank
	// transfer). It must never settle an order.
	TxStatusPending = "pending"

	// EventChargeCompleted is the webhook event the reconciliation engine acts on.
	EventChargeCompleted = "charge.completed"

	// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
	SignatureHeader = "verif-hash"
)

type Customer struct {
	Email string `json:"email"`
	Phone string `json:"phonenumber"`
	Name  string `json:"name"`
}

type ChargeMeta struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
}

type ChargeRequest struct {
	TxRef       string     `json:"tx_ref"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	RedirectURL string     `json:"redirect_url"`
	Customer    Customer   `json:"customer"`
	Meta        ChargeMeta `json:"meta"`
}

type ChargeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

type VerifyData struct {
	ID       int64      `json:"id"`
	TxRef    string     `json:"tx_ref"`
	FlwRef   string     `json:"flw_ref"`
	Status   string     `json:"status"`
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Meta     ChargeMeta `json:"meta"`
}

type VerifyResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Data    VerifyData `json:"data"`
}

// WebhookEvent is the push notification body. Delivery is at-least-once and
// unordered; the body is authenticated by SignatureHeader, never trusted bare.
type WebhookEvent struct {
	Event string     `json:"event"`
	Data  VerifyData `json:"data"`
}
