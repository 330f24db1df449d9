package webhook

// Input is the creation/update payload for subscriptions.
type Input struct {
	// UserID identifies the user that owns this subscription.
	UserID string `json:"user_id"`

	// URL is the delivery URL.
	URL string `json:"url"`

	// Description is a human-readable note.
	Description string `json:"description"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// EventTypes is the list of exact full-form event types to receive.
	EventTypes []string `json:"event_types"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
