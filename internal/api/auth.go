package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"salonbook/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	permReadOrders        = "read:orders"
	permWriteOrders       = "write:orders"
	permPayOrders         = "pay:orders"
	permConfirmOrders     = "confirm:orders"
	permExportOrders      = "export:orders"
	permReadAvailability  = "read:availability"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
)

// keyStore checks an api key and its paired extra secret against the config.
type keyStore struct {
	cfg     *config.APIConfig
	clients map[string]config.APIClientKey
}

func newKeyStore(cfg *config.APIConfig) *keyStore {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &keyStore{cfg: cfg, clients: m}
}

func (k *keyStore) apiKeyHeader() string {
	if h := strings.ToLower(strings.TrimSpace(k.cfg.Auth.HeaderAPIKey)); h != "" {
		return h
	}
	return apiKeyHeaderDefault
}

func (k *keyStore) extraHeader() string {
	if h := strings.ToLower(strings.TrimSpace(k.cfg.Auth.HeaderExtra)); h != "" {
		return h
	}
	return apiExtraHeaderDefault
}

func (k *keyStore) authenticate(apiKey, extra string) (config.APIClientKey, error) {
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingKey
	}
	client, ok := k.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	return client, nil
}

// An empty permission list allows everything.
func hasPermission(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

type apiClientKey struct{}

// clientName returns the name of the authenticated api client, if any.
func clientName(ctx context.Context) string {
	client, _ := ctx.Value(apiClientKey{}).(config.APIClientKey)
	return client.Name
}

// clientAllowed reports whether the authenticated client holds permission.
// Requests that passed without auth carry no client and are allowed.
func clientAllowed(ctx context.Context, permission string) bool {
	client, ok := ctx.Value(apiClientKey{}).(config.APIClientKey)
	if !ok {
		return true
	}
	return hasPermission(client, permission)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     *config.APIConfig
	keys    *keyStore
	limiter *rateLimiter
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, keys: newKeyStore(cfg), limiter: newRateLimiter(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			client, err := a.keys.authenticate(
				strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader())),
				strings.TrimSpace(r.Header.Get(a.keys.extraHeader())),
			)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			if !hasPermission(client, requiredPermissionHTTP(r)) {
				writeError(w, http.StatusForbidden, "forbidden", errPermissionDenied.Error())
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), apiClientKey{}, client))
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/availability"):
		return permReadAvailability
	case !strings.HasPrefix(path, "/api/orders"):
		return ""
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/export"):
		return permExportOrders
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/pay"):
		return permPayOrders
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return permReadOrders
	default:
		return permWriteOrders
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

type AuthInterceptor struct {
	cfg     *config.APIConfig
	keys    *keyStore
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		keys:    newKeyStore(cfg),
		limiter: newRateLimiter(cfg),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(ctx, info.FullMethod); err != nil {
				return nil, err
			}
		}
		if !a.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) checkAuth(ctx context.Context, fullMethod string) error {
	required, open := requiredPermission(fullMethod)
	if open {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	client, err := a.keys.authenticate(first(md.Get(a.keys.apiKeyHeader())), first(md.Get(a.keys.extraHeader())))
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	if !hasPermission(client, required) {
		return status.Error(codes.PermissionDenied, errPermissionDenied.Error())
	}
	return nil
}

// requiredPermission reports the permission a gRPC method needs; open methods
// skip authentication entirely.
func requiredPermission(fullMethod string) (string, bool) {
	switch {
	case strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/"):
		return "", true
	case strings.HasPrefix(fullMethod, "/grpc.reflection."):
		return permReadOrders, false
	default:
		return "", false
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(a.keys.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
