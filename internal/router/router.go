package router

import (
	"net/http"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/auth"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/dashboard"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/handlers"
)

type Middleware func(http.Handler) http.Handler

// Deps holds everything the routes are built from.
type Deps struct {
	Auth    *auth.Handler
	Bounty  *handlers.BountyHandler
	Account *dashboard.Handler
	Cron    *handlers.CronHandler
	Metrics http.Handler

	// Authenticate resolves the caller from an API key or session token.
	Authenticate Middleware
	CronSecret   Middleware
}

// New returns the HTTP surface. Bounty routes are served both at the root and under /api/v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler { return d.Authenticate(h) }

	mux.HandleFunc("POST /api/v1/auth/register", d.Auth.Register)
	mux.HandleFunc("POST /api/v1/auth/login", d.Auth.Login)
	mux.Handle("POST /api/v1/auth/api-keys", authed(d.Auth.CreateAPIKey))
	mux.Handle("DELETE /api/v1/auth/api-keys/{id}", authed(d.Auth.RevokeAPIKey))

	if d.Account != nil {
		mux.Handle("GET /api/v1/account/me", authed(d.Account.GetMe))
		mux.Handle("GET /api/v1/account/api-keys", authed(d.Account.ListAPIKeys))
		mux.Handle("GET /api/v1/account/notifications", authed(d.Account.ListNotifications))
		mux.Handle("POST /api/v1/account/notifications/{id}/read", authed(d.Account.MarkNotificationRead))
	}

	for _, base := range []string{"", "/api/v1"} {
		mux.Handle("POST "+base+"/bounties", authed(d.Bounty.Create))
		mux.HandleFunc("GET "+base+"/bounties/{id}", d.Bounty.Get)
		mux.Handle("POST "+base+"/bounties/{id}/fund", authed(d.Bounty.Fund))
		mux.Handle("PUT "+base+"/bounties/{id}/winner", authed(d.Bounty.SelectWinner))
		mux.Handle("POST "+base+"/bounties/{id}/winner", authed(d.Bounty.SelectWinner))
		mux.Handle("POST "+base+"/bounties/{id}/payout", authed(d.Bounty.Payout))
		mux.Handle("POST "+base+"/bounties/{id}/submissions", authed(d.Bounty.LinkSubmission))
		mux.HandleFunc("GET "+base+"/bounties/{id}/escrow", d.Bounty.Escrow)
		mux.Handle("GET "+base+"/bounties/{id}/escrow/calls", authed(d.Bounty.EscrowCalls))
	}

	mux.Handle("GET /cron/bounty-expiry", d.CronSecret(http.HandlerFunc(d.Cron.BountyExpiry)))
	mux.HandleFunc("GET /healthz", handlers.Healthz)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}
	return mux
}
