package worker

// IndexPayload is the body of a receipt.index message. One message per
// fragment; a receipt with line items publishes several.
type IndexPayload struct {
	ReceiptID     string `json:"receiptId"`
	UserID        string `json:"userId"`
	Content       string `json:"content"`
	IssuedAt      string `json:"issuedAt"`
	CorrelationID string `json:"correlationId"`
}

// ReprocessPayload is the body of a receipt.reprocess message, queued when
// extraction degraded and the caller opted to retry once the engine recovers.
type ReprocessPayload struct {
	ReceiptID     string `json:"receiptId"`
	UserID        string `json:"userId"`
	CorrelationID string `json:"correlationId"`
}
