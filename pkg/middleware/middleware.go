package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ksred/klear-compensation/internal/auth"
	"github.com/ksred/klear-compensation/pkg/response"
)

const claimsKey = "claims"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex

	// Configure limits per endpoint type
	authLimit         = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	optimizationLimit = rate.Limit(30.0 / 60.0)   // 30 requests per minute
	registryLimit     = rate.Limit(300.0 / 60.0)  // 300 requests per minute
	statusLimit       = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func limitFor(method, path string) rate.Limit {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return authLimit
	case strings.HasPrefix(path, "/api/v1/optimizations") && method == "POST":
		return optimizationLimit
	case strings.HasPrefix(path, "/api/v1/participants") && method != "GET":
		return registryLimit
	case strings.HasPrefix(path, "/api/v1/"):
		return statusLimit
	default:
		return rate.Inf // No limit for other paths
	}
}

func getLimiter(method, path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + method + ":" + path
	v, exists := visitors[key]
	if !exists {
		v = &visitor{
			limiter: rate.NewLimiter(limitFor(method, path), 1), // burst of 1
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.Request.Method, c.FullPath(), clientID)
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and stores the client id and claims in
// the context
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}
		if claims.ClientID == "" {
			response.Unauthorized(c, "Missing required claim: client_id")
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set("clientID", claims.ClientID)
		c.Next()
	}
}

// RequirePermission rejects requests whose token lacks permission. It must
// run after JWTAuth.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(claimsKey)
		claims, ok := value.(*auth.Claims)
		if !exists || !ok {
			response.Unauthorized(c, "Authentication required")
			c.Abort()
			return
		}
		if !claims.HasPermission(permission) {
			response.Forbidden(c, "Missing permission: "+permission)
			c.Abort()
			return
		}
		c.Next()
	}
}
