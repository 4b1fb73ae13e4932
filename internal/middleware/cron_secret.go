package middleware

import (
	"crypto/subtle"
	"net/http"
)

// CronSecretHeader carries the shared secret for scheduler-triggered endpoints.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret rejects requests whose X-Cron-Secret header (or "Authorization: Bearer")
// does not match secret. An empty secret disables the endpoint.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(CronSecretHeader)
			if got == "" {
				got = extractBearer(r)
			}
			if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				unauthorized(w, "invalid cron secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
