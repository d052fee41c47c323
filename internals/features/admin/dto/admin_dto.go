package dto

type LoginRequest struct {
	Password string `json:"password" validate:"required,max=200"`
}

// RetryPaymentRequest keeps the camelCase key the admin UI already sends.
type RetryPaymentRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,startswith=sub_,max=100"`
}
