package kvstore

import "time"

const (
	VerifyAttemptTTL  = 30 * time.Minute
	VerifyFailedTTL   = 24 * time.Hour
	ProcessedSetupTTL = 24 * time.Hour
	PaymentSetupTTL   = 24 * time.Hour
	BankAccountTTL    = 24 * time.Hour
	WebhookEventTTL   = 24 * time.Hour
	NotificationTTL   = 24 * time.Hour

	MaxVerifyAttempts = 3
	NotificationCap   = 100

	NotificationsKey = "payment_notifications"
)

func VerifyAttemptKey(setupIntentID string) string  { return "verify_attempt:" + setupIntentID }
func VerifyFailedKey(setupIntentID string) string   { return "verify_failed:" + setupIntentID }
func ProcessedSetupKey(setupIntentID string) string { return "processed_setup:" + setupIntentID }
func PaymentSetupKey(customerID string) string      { return "payment_setup:" + customerID }
func BankAccountKey(customerID string) string       { return "bank_account:" + customerID }
func WebhookEventKey(eventID string) string         { return "webhook_event:" + eventID }
func NotifiedKey(eventID string) string             { return "notified:" + eventID }

// RevokedSessionKey marks a logged-out admin token until it would expire anyway.
func RevokedSessionKey(sessionID string) string { return "revoked_session:" + sessionID }
