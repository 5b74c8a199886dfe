package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Only the header timeout is tight; audit-trail
// responses can take a while when the rule graph fans out, so read and write
// timeouts stay generous.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
