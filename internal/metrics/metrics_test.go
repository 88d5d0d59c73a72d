package metrics

import "testing"

func TestRegisterIdempotent(t *testing.T) {
	Register()
	Register() // must not panic on duplicate registration

	IncJob("completed")
	IncWebhook("accepted")
	IncReverseSyncPage("projects", "success")
	IncHTTP("/health")
}
