package mw

import (
	"log/slog"
	"net/http"

	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioSignature rejects webhook requests whose X-Twilio-Signature does not
// match the request as signed with the account's auth token. publicBaseURL is
// the externally visible scheme://host the provider signed against, since the
// server usually sits behind TLS termination.
func TwilioSignature(authToken, publicBaseURL string, logger *slog.Logger, next http.Handler) http.Handler {
	validator := twilioclient.NewRequestValidator(authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		signedURL := publicBaseURL + r.URL.RequestURI()
		if !validator.Validate(signedURL, params, r.Header.Get("X-Twilio-Signature")) {
			reqID, _ := RequestIDFrom(r.Context())
			if logger != nil {
				logger.Warn("rejected webhook with bad signature",
					"request_id", reqID, "path", r.URL.Path)
			}
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
