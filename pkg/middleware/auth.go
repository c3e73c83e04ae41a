package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/grants/pkg/httputil"
	"github.com/platinummonkey/grants/pkg/observability"
)

// ActorHeader carries the actor id from a trusted gateway
const ActorHeader = "X-Actor-ID"

var errNoActor = errors.New("missing actor identity")

// TokenVerifier verifies a raw ID token
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// AuthConfig configures ActorAuth
type AuthConfig struct {
	// Verifier checks bearer ID tokens. Nil disables bearer auth.
	Verifier TokenVerifier
	// ActorClaim names the claim holding the numeric user id
	ActorClaim string
	// TrustHeader accepts X-Actor-ID when no verifier is configured
	TrustHeader bool
	Logger      *observability.Logger
}

// ActorAuth establishes the calling actor for administrative routes
type ActorAuth struct {
	verifier    TokenVerifier
	actorClaim  string
	trustHeader bool
	logger      *observability.Logger
}

// NewActorAuth creates actor authentication middleware
func NewActorAuth(cfg AuthConfig) *ActorAuth {
	if cfg.ActorClaim == "" {
		cfg.ActorClaim = "uid"
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &ActorAuth{
		verifier:    cfg.Verifier,
		actorClaim:  cfg.ActorClaim,
		trustHeader: cfg.TrustHeader,
		logger:      cfg.Logger,
	}
}

// NewOIDCVerifier discovers issuer and returns a verifier for clientID
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

// Handler rejects requests without a valid actor and stores the actor id in
// the request context
func (a *ActorAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID, err := a.authenticate(r)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("Actor authentication failed")
			httputil.WriteErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(observability.WithActorID(r.Context(), actorID)))
	})
}

func (a *ActorAuth) authenticate(r *http.Request) (int64, error) {
	if a.verifier != nil {
		raw, ok := bearerToken(r)
		if !ok {
			return 0, errNoActor
		}
		token, err := a.verifier.Verify(r.Context(), raw)
		if err != nil {
			return 0, err
		}
		return a.actorFromToken(token)
	}

	if a.trustHeader {
		if v := r.Header.Get(ActorHeader); v != "" {
			return parseActorID(v)
		}
	}
	return 0, errNoActor
}

func (a *ActorAuth) actorFromToken(token *oidc.IDToken) (int64, error) {
	var claims map[string]json.RawMessage
	if err := token.Claims(&claims); err != nil {
		return 0, fmt.Errorf("decoding claims: %w", err)
	}
	raw, ok := claims[a.actorClaim]
	if !ok {
		return 0, fmt.Errorf("token has no %q claim", a.actorClaim)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return parseActorID(n.String())
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("claim %q is neither a number nor a string", a.actorClaim)
	}
	return parseActorID(s)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func parseActorID(v string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid actor id %q", v)
	}
	return id, nil
}
