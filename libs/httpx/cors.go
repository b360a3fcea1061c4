package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what browsers on other origins may do against the API.
// An origin of "*" allows any origin.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsRules struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     map[string]struct{}
	credentials bool

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

func compileCORS(cfg CORSPolicy) corsRules {
	c := corsRules{
		origins:       map[string]struct{}{},
		methods:       map[string]struct{}{},
		credentials:   cfg.AllowCredentials,
		allowHeaders:  strings.Join(normalizeList(cfg.AllowedHeaders), ", "),
		exposeHeaders: strings.Join(normalizeList(cfg.ExposedHeaders), ", "),
	}
	for _, o := range normalizeList(cfg.AllowedOrigins) {
		if o == "*" {
			c.anyOrigin = true
			continue
		}
		c.origins[strings.ToLower(o)] = struct{}{}
	}
	methods := normalizeList(cfg.AllowedMethods)
	for i, m := range methods {
		methods[i] = strings.ToUpper(m)
		c.methods[methods[i]] = struct{}{}
	}
	c.allowMethods = strings.Join(methods, ", ")
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		c.maxAge = strconv.Itoa(secs)
	}
	return c
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
// Credentialed responses must echo the origin rather than "*".
func (c corsRules) allowOrigin(origin string) (string, bool) {
	if _, ok := c.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	if !c.anyOrigin {
		return "", false
	}
	if c.credentials {
		return origin, true
	}
	return "*", true
}

func (c corsRules) methodAllowed(method string) bool {
	if len(c.methods) == 0 {
		return true
	}
	_, ok := c.methods[strings.ToUpper(method)]
	return ok
}

// WithCORS answers preflight requests and decorates responses for allowed
// origins. With no allowed origins it is a no-op. A preflight for a method
// outside AllowedMethods gets 204 without allow headers, so the browser
// blocks the actual request.
func WithCORS(cfg CORSPolicy) Middleware {
	if len(normalizeList(cfg.AllowedOrigins)) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rules := compileCORS(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			headers := w.Header()
			headers.Add("Vary", "Origin")

			allowed, ok := rules.allowOrigin(origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				if ok {
					headers.Set("Access-Control-Allow-Origin", allowed)
					if rules.credentials {
						headers.Set("Access-Control-Allow-Credentials", "true")
					}
					if rules.exposeHeaders != "" {
						headers.Set("Access-Control-Expose-Headers", rules.exposeHeaders)
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			headers.Add("Vary", "Access-Control-Request-Method")
			headers.Add("Vary", "Access-Control-Request-Headers")
			if ok && rules.methodAllowed(r.Header.Get("Access-Control-Request-Method")) {
				headers.Set("Access-Control-Allow-Origin", allowed)
				if rules.credentials {
					headers.Set("Access-Control-Allow-Credentials", "true")
				}
				if rules.allowMethods != "" {
					headers.Set("Access-Control-Allow-Methods", rules.allowMethods)
				}
				if rules.allowHeaders != "" {
					headers.Set("Access-Control-Allow-Headers", rules.allowHeaders)
				}
				if rules.maxAge != "" {
					headers.Set("Access-Control-Max-Age", rules.maxAge)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SplitList turns a comma separated env value into a CORS list.
func SplitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}
