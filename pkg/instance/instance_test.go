package instance

import "testing"

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("SHIFTPAY_INSTANCE_ID", "cron-worker-2")
	if got := GetID(); got != "cron-worker-2" {
		t.Fatalf("GetID() = %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("SHIFTPAY_INSTANCE_ID", "")
	if GetID() == "" {
		t.Fatal("expected a non-empty instance id")
	}
}
