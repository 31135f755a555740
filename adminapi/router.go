// Package adminapi exposes a read-only operator HTTP surface over live sessions, locks, and
// transactions, plus two mutating actions: canceling a session's in-flight statement and
// killing a session outright. Mutating endpoints are gated by an Okta bearer-token verifier.
package adminapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/session"
)

// Verifier authenticates the bearer token on a mutating admin request. NewOktaVerifier wraps
// Okta's token verifier; a nil Verifier (DEV mode) allows every request through.
type Verifier interface {
	Verify(token string) error
}

// OktaVerifier validates a bearer token against an Okta authorization server.
type OktaVerifier struct {
	issuer   string
	audience string
}

// NewOktaVerifier creates a Verifier backed by Okta, validating that the access token's "aud"
// claim matches audience.
func NewOktaVerifier(issuer, audience string) *OktaVerifier {
	return &OktaVerifier{issuer: issuer, audience: audience}
}

// Verify implements Verifier.
func (v *OktaVerifier) Verify(token string) error {
	setup := jwtverifier.JwtVerifier{
		Issuer:           v.issuer,
		ClaimsToValidate: map[string]string{"aud": v.audience},
	}
	_, err := setup.New().VerifyAccessToken(token)
	return err
}

// Router owns the admin HTTP surface: a session Directory to introspect and an optional
// Verifier gating the two mutating endpoints.
type Router struct {
	engine   *gin.Engine
	sessions *sessionsAPI
}

// Options configures a Router. Verifier may be nil, in which case every request is allowed —
// intended only for local development.
type Options struct {
	Directory      *session.Directory
	Verifier       Verifier
	MetricsHandler http.Handler
}

// New builds a Router with every route registered, ready for ListenAndServe via Run.
func New(opts Options) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	r := &Router{
		engine:   engine,
		sessions: &sessionsAPI{directory: opts.Directory},
	}

	authenticated := requireBearerToken(opts.Verifier)

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/sessions", r.sessions.list)
		v1.GET("/sessions/:id", r.sessions.get)
		v1.POST("/sessions/:id/cancel", authenticated(r.sessions.cancel))
		v1.DELETE("/sessions/:id", authenticated(r.sessions.kill))
	}

	if opts.MetricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	return r
}

// Run blocks serving the admin API on addr.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}

// requireBearerToken wraps a handler so it only runs once verifier has accepted the request's
// Authorization header. A nil verifier (DEV mode) lets every request through.
func requireBearerToken(verifier Verifier) func(gin.HandlerFunc) gin.HandlerFunc {
	return func(h gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			if verifier == nil || os.Getenv("SQLCOORD_ENV") == "DEV" {
				h(c)
				return
			}
			header := c.Request.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				c.String(http.StatusUnauthorized, "Unauthorized")
				c.Abort()
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if err := verifier.Verify(token); err != nil {
				c.String(http.StatusForbidden, err.Error())
				c.Abort()
				return
			}
			h(c)
		}
	}
}

func parseSessionID(c *gin.Context) (sqlcoord.UUID, bool) {
	id, err := sqlcoord.ParseUUID(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid session id"})
		return sqlcoord.UUID{}, false
	}
	return id, true
}
