// Package walletd exposes the wallet over HTTP: credential lifecycle under
// /auth, proxied storage operations under /proxy. Everything past login
// requires a bearer token issued by the wallet itself.
package walletd

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/server/httpd"
	"github.com/statewire/statewire/internal/wallet"
)

// Options configure the wallet HTTP surface.
type Options struct {
	CORSOrigins []string
}

// Server serves the wallet protocol over HTTP.
type Server struct {
	wallet *wallet.Wallet
	log    *zap.Logger
	opts   Options
}

func New(w *wallet.Wallet, log *zap.Logger, opts Options) *Server {
	return &Server{wallet: w, log: log, opts: opts}
}

// Router builds a gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpd.RequestLogger(s.log))
	if len(s.opts.CORSOrigins) > 0 {
		cfg := cors.DefaultConfig()
		if len(s.opts.CORSOrigins) == 1 && s.opts.CORSOrigins[0] == "*" {
			cfg.AllowAllOrigins = true
		} else {
			cfg.AllowOrigins = s.opts.CORSOrigins
		}
		cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		r.Use(cors.New(cfg))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/server-keys", s.handleServerKeys)

	auth := r.Group("/auth")
	auth.POST("/signup/:appKey", s.handleSignup)
	auth.POST("/login/:appKey", s.handleLogin)
	auth.POST("/credentials/change-password/:appKey", s.handleChangePassword)
	auth.POST("/credentials/request-password-reset/:appKey", s.handleRequestReset)
	auth.POST("/credentials/reset-password/:appKey", s.handleResetPassword)
	auth.GET("/public-keys/:appKey", s.authorized(), s.handlePublicKeys)

	proxy := r.Group("/proxy", s.authorized())
	proxy.POST("/write", s.handleProxyWrite)
	proxy.GET("/read", s.handleProxyRead)
	proxy.POST("/read-multi", s.handleProxyReadMulti)

	return r
}

func fail(c *gin.Context, err error) {
	ne := node.Wrap(node.KindBackend, err)
	status := http.StatusUnauthorized
	if node.KindOf(ne) != node.KindAuth {
		status = statusFor(ne)
	}
	c.JSON(status, gin.H{"ok": false, "error": ne.Error()})
}

func statusFor(err error) int {
	switch node.KindOf(err) {
	case node.KindValidation, node.KindNoSchema, node.KindImmutableExists,
		node.KindHashMismatch, node.KindBatchTooLarge:
		return http.StatusBadRequest
	case node.KindNotFound:
		return http.StatusNotFound
	case node.KindDecrypt:
		return http.StatusUnprocessableEntity
	case node.KindTimeout:
		return http.StatusGatewayTimeout
	case node.KindDisconnected:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// authorized parses the bearer token and stashes its claims in the context.
func (s *Server) authorized() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "auth: missing bearer token"})
			return
		}
		claims, err := s.wallet.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func claimsOf(c *gin.Context) *wallet.Claims {
	v, _ := c.Get("claims")
	claims, _ := v.(*wallet.Claims)
	return claims
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "walletd"})
}

func (s *Server) handleServerKeys(c *gin.Context) {
	c.JSON(http.StatusOK, s.wallet.ServerKeys())
}

func (s *Server) handleSignup(c *gin.Context) {
	var req wallet.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "signup body: %v", err))
		return
	}
	res, err := s.wallet.Signup(c.Request.Context(), c.Param("appKey"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "token": res.Token, "principalPub": res.PrincipalPub})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req wallet.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "login body: %v", err))
		return
	}
	res, err := s.wallet.Login(c.Request.Context(), c.Param("appKey"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "token": res.Token, "principalPub": res.PrincipalPub})
}

func (s *Server) handleChangePassword(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "change-password body: %v", err))
		return
	}
	err := s.wallet.ChangePassword(c.Request.Context(), c.Param("appKey"), req.Username, req.OldPassword, req.NewPassword)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleRequestReset(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "request-password-reset body: %v", err))
		return
	}
	token, err := s.wallet.RequestPasswordReset(c.Request.Context(), c.Param("appKey"), req.Username)
	if err != nil {
		fail(c, err)
		return
	}
	// Token delivery is the embedding application's concern; returning it
	// here keeps the wallet transport-agnostic.
	c.JSON(http.StatusOK, gin.H{"ok": true, "resetToken": token})
}

func (s *Server) handleResetPassword(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		ResetToken  string `json:"resetToken"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "reset-password body: %v", err))
		return
	}
	err := s.wallet.ResetPassword(c.Request.Context(), c.Param("appKey"), req.Username, req.ResetToken, req.NewPassword)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handlePublicKeys(c *gin.Context) {
	claims := claimsOf(c)
	if claims.AppKey != c.Param("appKey") {
		fail(c, node.Errf(node.KindAuth, "token is for a different application"))
		return
	}
	keys, err := s.wallet.PublicKeys(c.Request.Context(), claims)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (s *Server) handleProxyWrite(c *gin.Context) {
	var req wallet.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "write body: %v", err))
		return
	}
	res, err := s.wallet.ProxyWrite(c.Request.Context(), claimsOf(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"uri":         req.URI,
		"resolvedUri": res.Receipt.ResolvedURI,
		"record": gin.H{
			"ts":   res.Receipt.TS,
			"data": codec.WrapBinary(res.Stored),
		},
	})
}

func (s *Server) handleProxyRead(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		fail(c, node.Errf(node.KindValidation, "missing uri query parameter"))
		return
	}
	res, err := s.wallet.ProxyRead(c.Request.Context(), claimsOf(c), uri)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"uri":     res.URI,
		"record": gin.H{
			"ts":   res.TS,
			"data": codec.WrapBinary(res.Data),
		},
		"decrypted": res.Decrypted,
	})
}

func (s *Server) handleProxyReadMulti(c *gin.Context) {
	var req struct {
		URIs []string `json:"uris"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "read-multi body: %v", err))
		return
	}
	results, summary, err := s.wallet.ProxyReadMulti(c.Request.Context(), claimsOf(c), req.URIs)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		item := gin.H{"uri": r.URI, "success": r.OK}
		if r.Result != nil {
			item["record"] = gin.H{
				"ts":   r.Result.TS,
				"data": codec.WrapBinary(r.Result.Data),
			}
			item["decrypted"] = r.Result.Decrypted
		}
		if r.Error != "" {
			item["error"] = r.Error
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": out, "summary": summary})
}
