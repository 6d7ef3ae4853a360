package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/teich/bank4/family"
	"github.com/teich/bank4/metrics"
)

// ActorHeader carries the authenticated user ID set by the upstream
// identity proxy. Sessions are not handled here.
const ActorHeader = "X-Actor-ID"

// RequireCronSecret rejects trigger calls without the shared bearer secret.
// Outside production every call is let through. In production an unset
// secret rejects everything.
func RequireCronSecret(production bool, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if production && !validBearer(r.Header.Get("Authorization"), secret) {
				log.Printf("[Accrual] Unauthorized trigger attempt from %s", r.RemoteAddr)
				metrics.TriggerRejected.Inc()
				writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validBearer(header, secret string) bool {
	if secret == "" {
		return false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(secret)) == 1
}

func actorID(r *http.Request) family.UserID {
	return family.UserID(strings.TrimSpace(r.Header.Get(ActorHeader)))
}
