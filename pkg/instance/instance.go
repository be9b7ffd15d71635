package instance

import "os"

// GetID identifies this replica in lock values and logs. SHIFTPAY_INSTANCE_ID
// wins, then the hostname.
func GetID() string {
	if id := os.Getenv("SHIFTPAY_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "shiftpay-0"
}
