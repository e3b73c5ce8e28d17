package config

const (
	// TopicReceiptIndex is the NSQ topic for receipt fragment indexing tasks.
	TopicReceiptIndex = "receipt.index"

	// TopicReceiptReprocess is the NSQ topic for deferred re-extraction of
	// receipts uploaded while the OCR engine was unavailable.
	TopicReceiptReprocess = "receipt.reprocess"
)
