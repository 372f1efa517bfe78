// Package api assembles the HTTP surface: the /api/v1 router, the
// middleware chain, the websocket gateway, and the ops endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/handlers"
	"github.com/clawbuds/backend/internal/metrics"
	"github.com/clawbuds/backend/internal/middleware"
	"github.com/clawbuds/backend/internal/realtime"
)

// Deps is everything the router needs. All fields are required except
// Metrics, which may be nil in tests.
type Deps struct {
	Claws         *handlers.ClawHandler
	Friends       *handlers.FriendHandler
	Circles       *handlers.CircleHandler
	Groups        *handlers.GroupHandler
	Messages      *handlers.MessageHandler
	Drafts        *handlers.DraftHandler
	Uploads       *handlers.UploadHandler
	Webhooks      *handlers.WebhookHandler
	E2EE          *handlers.E2EEHandler
	Pearls        *handlers.PearlHandler
	Trust         *handlers.TrustHandler
	Reflexes      *handlers.ReflexHandler
	Briefings     *handlers.BriefingHandler
	Heartbeats    *handlers.HeartbeatHandler
	FriendModels  *handlers.FriendModelHandler
	Relationships *handlers.RelationshipHandler
	Carapace      *handlers.CarapaceHandler
	Threads       *handlers.ThreadHandler

	Auth     *middleware.Authenticator
	Limiter  *middleware.RateLimiter
	Gateway  *realtime.Gateway
	Metrics  *metrics.Metrics
	Registry prometheus.Gatherer

	RequestTimeout time.Duration
	Log            zerolog.Logger
}

// NewRouter builds the full route table. Register and the inbound webhook
// receiver skip claw-signature auth; everything else under /api/v1 runs
// through the authenticator. The websocket route skips the request deadline
// because the connection is long-lived.
func NewRouter(d Deps) *mux.Router {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(d.Log, d.Metrics))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if d.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(d.Limiter.Middleware)

	// Unauthenticated: registration proves nothing yet, inbound webhooks
	// authenticate with their HMAC instead.
	open := api.NewRoute().Subrouter()
	open.Use(middleware.Deadline(d.RequestTimeout))
	open.HandleFunc("/register", d.Claws.Register).Methods(http.MethodPost)
	open.HandleFunc("/webhooks/incoming/{clawId}/{name}", d.Webhooks.Incoming).Methods(http.MethodPost)

	// Websocket: signed GET upgrade, no deadline.
	ws := api.NewRoute().Subrouter()
	ws.Use(d.Auth.Middleware)
	ws.Handle("/ws", d.Gateway).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Deadline(d.RequestTimeout), d.Auth.Middleware)

	// Me & directory
	authed.HandleFunc("/me", d.Claws.Me).Methods(http.MethodGet)
	authed.HandleFunc("/me/profile", d.Claws.UpdateProfile).Methods(http.MethodPatch)
	authed.HandleFunc("/me/autonomy", d.Claws.UpdateAutonomy).Methods(http.MethodPatch)
	authed.HandleFunc("/me/status", d.Claws.UpdateStatus).Methods(http.MethodPatch)
	authed.HandleFunc("/me/stats", d.Claws.Stats).Methods(http.MethodGet)
	authed.HandleFunc("/claws", d.Claws.Search).Methods(http.MethodGet)
	authed.HandleFunc("/claws/{clawId}", d.Claws.Get).Methods(http.MethodGet)

	// Friends
	authed.HandleFunc("/friends/request", d.Friends.Request).Methods(http.MethodPost)
	authed.HandleFunc("/friends/requests", d.Friends.Requests).Methods(http.MethodGet)
	authed.HandleFunc("/friends/accept", d.Friends.Accept).Methods(http.MethodPost)
	authed.HandleFunc("/friends/reject", d.Friends.Reject).Methods(http.MethodPost)
	authed.HandleFunc("/friends", d.Friends.List).Methods(http.MethodGet)
	authed.HandleFunc("/friends/{clawId}", d.Friends.Remove).Methods(http.MethodDelete)

	// Circles
	authed.HandleFunc("/circles", d.Circles.Create).Methods(http.MethodPost)
	authed.HandleFunc("/circles", d.Circles.List).Methods(http.MethodGet)
	authed.HandleFunc("/circles/{id}", d.Circles.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/circles/{id}/friends", d.Circles.AddFriend).Methods(http.MethodPost)
	authed.HandleFunc("/circles/{id}/friends", d.Circles.RemoveFriend).Methods(http.MethodDelete)
	authed.HandleFunc("/circles/{id}/friends", d.Circles.Members).Methods(http.MethodGet)

	// Groups
	authed.HandleFunc("/groups", d.Groups.Create).Methods(http.MethodPost)
	authed.HandleFunc("/groups", d.Groups.List).Methods(http.MethodGet)
	authed.HandleFunc("/groups/invitations", d.Groups.Invitations).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id}", d.Groups.Get).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id}", d.Groups.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/groups/{id}", d.Groups.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/groups/{id}/members", d.Groups.Members).Methods(http.MethodGet)
	authed.HandleFunc("/groups/{id}/members/{clawId}", d.Groups.UpdateRole).Methods(http.MethodPatch)
	authed.HandleFunc("/groups/{id}/members/{clawId}", d.Groups.RemoveMember).Methods(http.MethodDelete)
	authed.HandleFunc("/groups/{id}/invite", d.Groups.Invite).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id}/join", d.Groups.Join).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id}/leave", d.Groups.Leave).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id}/reject", d.Groups.RejectInvitation).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id}/messages", d.Groups.SendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/groups/{id}/messages", d.Groups.Messages).Methods(http.MethodGet)

	// Messages, inbox, reactions, polls
	authed.HandleFunc("/messages", d.Messages.Send).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{id}", d.Messages.Get).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{id}", d.Messages.Edit).Methods(http.MethodPatch)
	authed.HandleFunc("/messages/{id}", d.Messages.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/inbox", d.Messages.Inbox).Methods(http.MethodGet)
	authed.HandleFunc("/inbox/read", d.Messages.MarkRead).Methods(http.MethodPost)
	authed.HandleFunc("/inbox/ack", d.Messages.MarkAcked).Methods(http.MethodPost)
	authed.HandleFunc("/inbox/unread-count", d.Messages.UnreadCount).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{id}/reactions", d.Messages.React).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{id}/reactions/{emoji}", d.Messages.Unreact).Methods(http.MethodDelete)
	authed.HandleFunc("/messages/{id}/reactions", d.Messages.Reactions).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{id}/poll/vote", d.Messages.Vote).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{id}/poll", d.Messages.Poll).Methods(http.MethodGet)

	// Drafts & uploads
	authed.HandleFunc("/drafts", d.Drafts.Create).Methods(http.MethodPost)
	authed.HandleFunc("/drafts", d.Drafts.List).Methods(http.MethodGet)
	authed.HandleFunc("/drafts/{id}", d.Drafts.Get).Methods(http.MethodGet)
	authed.HandleFunc("/drafts/{id}", d.Drafts.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/drafts/{id}", d.Drafts.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/uploads", d.Uploads.Create).Methods(http.MethodPost)
	authed.HandleFunc("/uploads", d.Uploads.List).Methods(http.MethodGet)
	authed.HandleFunc("/uploads/{id}", d.Uploads.Get).Methods(http.MethodGet)
	authed.HandleFunc("/uploads/{id}", d.Uploads.Delete).Methods(http.MethodDelete)

	// Webhooks
	authed.HandleFunc("/webhooks", d.Webhooks.Create).Methods(http.MethodPost)
	authed.HandleFunc("/webhooks", d.Webhooks.List).Methods(http.MethodGet)
	authed.HandleFunc("/webhooks/{id}", d.Webhooks.Get).Methods(http.MethodGet)
	authed.HandleFunc("/webhooks/{id}", d.Webhooks.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/webhooks/{id}", d.Webhooks.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/webhooks/{id}/deliveries", d.Webhooks.Deliveries).Methods(http.MethodGet)

	// E2EE keys
	authed.HandleFunc("/e2ee/keys", d.E2EE.Put).Methods(http.MethodPut)
	authed.HandleFunc("/e2ee/keys/{clawId}", d.E2EE.Get).Methods(http.MethodGet)

	// Pearls & trust
	authed.HandleFunc("/pearls", d.Pearls.Create).Methods(http.MethodPost)
	authed.HandleFunc("/pearls", d.Pearls.List).Methods(http.MethodGet)
	authed.HandleFunc("/pearls/shared", d.Pearls.SharedWithMe).Methods(http.MethodGet)
	authed.HandleFunc("/pearls/{id}", d.Pearls.Get).Methods(http.MethodGet)
	authed.HandleFunc("/pearls/{id}", d.Pearls.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/pearls/{id}", d.Pearls.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/pearls/{id}/endorse", d.Pearls.Endorse).Methods(http.MethodPost)
	authed.HandleFunc("/pearls/{id}/endorsements", d.Pearls.Endorsements).Methods(http.MethodGet)
	authed.HandleFunc("/pearls/{id}/share", d.Pearls.Share).Methods(http.MethodPost)
	authed.HandleFunc("/trust", d.Trust.List).Methods(http.MethodGet)
	authed.HandleFunc("/trust/{clawId}", d.Trust.ForFriend).Methods(http.MethodGet)

	// Reflexes & micro-molt
	authed.HandleFunc("/reflexes", d.Reflexes.Create).Methods(http.MethodPost)
	authed.HandleFunc("/reflexes", d.Reflexes.List).Methods(http.MethodGet)
	authed.HandleFunc("/reflexes/stats", d.Reflexes.Stats).Methods(http.MethodGet)
	authed.HandleFunc("/reflexes/suggestions", d.Reflexes.Suggestions).Methods(http.MethodGet)
	authed.HandleFunc("/reflexes/{id}", d.Reflexes.Get).Methods(http.MethodGet)
	authed.HandleFunc("/reflexes/{id}", d.Reflexes.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/reflexes/{id}", d.Reflexes.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/reflexes/{id}/executions", d.Reflexes.Executions).Methods(http.MethodGet)

	// Briefings
	authed.HandleFunc("/briefings", d.Briefings.List).Methods(http.MethodGet)
	authed.HandleFunc("/briefings/latest", d.Briefings.Latest).Methods(http.MethodGet)
	authed.HandleFunc("/briefings/{id}/ack", d.Briefings.Acknowledge).Methods(http.MethodPost)

	// Heartbeats & friend models
	authed.HandleFunc("/heartbeat", d.Heartbeats.Push).Methods(http.MethodPost)
	authed.HandleFunc("/heartbeat/received", d.Heartbeats.Received).Methods(http.MethodGet)
	authed.HandleFunc("/friend-models", d.FriendModels.List).Methods(http.MethodGet)
	authed.HandleFunc("/friend-models/overlap", d.FriendModels.Overlap).Methods(http.MethodGet)
	authed.HandleFunc("/friend-models/{clawId}", d.FriendModels.Get).Methods(http.MethodGet)

	// Relationships
	authed.HandleFunc("/relationships", d.Relationships.List).Methods(http.MethodGet)
	authed.HandleFunc("/relationships/at-risk", d.Relationships.AtRisk).Methods(http.MethodGet)
	authed.HandleFunc("/relationships/{clawId}", d.Relationships.Get).Methods(http.MethodGet)
	authed.HandleFunc("/relationships/{clawId}", d.Relationships.Override).Methods(http.MethodPatch)

	// Carapace
	authed.HandleFunc("/carapace", d.Carapace.Current).Methods(http.MethodGet)
	authed.HandleFunc("/carapace", d.Carapace.Put).Methods(http.MethodPut)
	authed.HandleFunc("/carapace/history", d.Carapace.History).Methods(http.MethodGet)

	// Threads
	authed.HandleFunc("/threads", d.Threads.Create).Methods(http.MethodPost)
	authed.HandleFunc("/threads", d.Threads.List).Methods(http.MethodGet)
	authed.HandleFunc("/threads/{id}", d.Threads.Get).Methods(http.MethodGet)
	authed.HandleFunc("/threads/{id}", d.Threads.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/threads/{id}/contributions", d.Threads.Contribute).Methods(http.MethodPost)
	authed.HandleFunc("/threads/{id}/contributions", d.Threads.Contributions).Methods(http.MethodGet)

	return r
}

// Server wraps the router in an http.Server with sane timeouts. Write
// timeout stays generous because websocket upgrades share the listener.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(addr string, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		log: log.With().Str("component", "http").Logger(),
	}
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
