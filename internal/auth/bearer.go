package auth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// BearerClient returns an *http.Client that sends
// "Authorization: Bearer <token>" on every request.
//
// oauth2.NewClient wraps the transport with a TokenSource. A static source
// never refreshes, which matches a long-lived provider API key.
//
// A zero timeout leaves the client without one.
func BearerClient(ctx context.Context, token string, timeout time.Duration) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = timeout
	return client
}
