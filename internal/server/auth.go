package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/engine"
	"taskline/internal/engine/auth"
)

type AuthConfig struct {
	// AllowLegacyActorHeader trusts X-Actor-Id without credentials.
	AllowLegacyActorHeader bool
}

type callerKey struct{}

func withCaller(ctx context.Context, c engine.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// callerFromContext returns the request's caller. Requests without
// credentials yield an anonymous caller; the engine decides what they may do.
func callerFromContext(ctx context.Context) engine.Caller {
	c, _ := ctx.Value(callerKey{}).(engine.Caller)
	return c
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func originOf(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine, logger *log.Logger) func(http.Handler) http.Handler {
	invalid := func(w http.ResponseWriter) {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			caller := engine.Caller{Origin: originOf(req)}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					invalid(w)
					return
				}
				p, err := e.VerifyAccess(token)
				if err != nil {
					invalid(w)
					return
				}
				caller.Principal = p
			case apiKeyHeader != "":
				p, err := e.AuthenticateKey(req.Context(), apiKeyHeader)
				if err != nil {
					invalid(w)
					return
				}
				caller.Principal = p
			case legacyActor != "" && cfg.AllowLegacyActorHeader:
				logger.Warn("using legacy X-Actor-Id header without auth; ignored when Authorization or X-Api-Key is present", "actor_id", legacyActor)
				caller.Principal = auth.Principal{ID: legacyActor}
			}
			next.ServeHTTP(w, req.WithContext(withCaller(req.Context(), caller)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
