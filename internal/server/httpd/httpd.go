// Package httpd exposes a node over HTTP: a thin gin shell that parses URIs
// out of path segments, forwards to the node interface, and maps error kinds
// to status codes. Structured values travel as JSON, raw bytes as
// application/octet-stream.
package httpd

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// DefaultPrefix is the route prefix when Options.Prefix is empty.
const DefaultPrefix = "/api/v1"

// Options configure the HTTP surface.
type Options struct {
	Prefix      string
	CORSOrigins []string // origin list, or ["*"] for any
	MaxBodyMB   int64    // request body cap for binary writes, default 32
}

// Server serves the node protocol over HTTP.
type Server struct {
	node node.Node
	log  *zap.Logger
	opts Options
}

func New(n node.Node, log *zap.Logger, opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.MaxBodyMB <= 0 {
		opts.MaxBodyMB = 32
	}
	return &Server{node: n, log: log, opts: opts}
}

// Router builds a gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.log))
	if len(s.opts.CORSOrigins) > 0 {
		cfg := cors.DefaultConfig()
		if len(s.opts.CORSOrigins) == 1 && s.opts.CORSOrigins[0] == "*" {
			cfg.AllowAllOrigins = true
		} else {
			cfg.AllowOrigins = s.opts.CORSOrigins
		}
		cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		r.Use(cors.New(cfg))
	}
	s.Register(r.Group(s.opts.Prefix))
	return r
}

// Register mounts the node routes on a router group. Each op takes the
// scheme as a parameter and the rest of the URI as a single catch-all:
// gin does not allow static segments next to wildcards, and the authority
// plus path split is the node's business anyway.
func (s *Server) Register(rg *gin.RouterGroup) {
	rg.GET("/health", s.handleHealth)
	rg.GET("/schema", s.handleSchema)
	rg.POST("/write/:scheme/*rest", s.handleWrite)
	rg.GET("/read/:scheme/*rest", s.handleRead)
	rg.GET("/list/:scheme/*rest", s.handleList)
	rg.DELETE("/delete/:scheme/*rest", s.handleDelete)
	rg.POST("/read-multi", s.handleReadMulti)
}

// RequestLogger emits one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// uriParam reassembles scheme://authority[/path] from route parameters.
func uriParam(c *gin.Context) string {
	rest := strings.TrimPrefix(c.Param("rest"), "/")
	return c.Param("scheme") + "://" + rest
}

// statusFor maps error kinds to HTTP statuses.
func statusFor(err error) int {
	switch node.KindOf(err) {
	case node.KindValidation, node.KindNoSchema, node.KindImmutableExists,
		node.KindHashMismatch, node.KindBatchTooLarge:
		return http.StatusBadRequest
	case node.KindNotFound:
		return http.StatusNotFound
	case node.KindAuth:
		return http.StatusUnauthorized
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

func fail(c *gin.Context, err error) {
	ne := node.Wrap(node.KindBackend, err)
	c.JSON(statusFor(ne), gin.H{"ok": false, "error": ne.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.node.Health(c.Request.Context())
	status := http.StatusOK
	if h.Status == node.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) handleSchema(c *gin.Context) {
	programs, err := s.node.ListPrograms(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"programs": programs})
}

func (s *Server) handleWrite(c *gin.Context) {
	uri := uriParam(c)
	value, err := s.readValue(c)
	if err != nil {
		fail(c, err)
		return
	}
	rcpt, err := s.node.Receive(c.Request.Context(), uri, value)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"resolvedUri": rcpt.ResolvedURI,
		"ts":          rcpt.TS,
		"children":    rcpt.Children,
	})
}

// readValue decodes the write body: raw bytes pass through under
// octet-stream, everything else is a JSON {"value": …} envelope.
func (s *Server) readValue(c *gin.Context) (any, error) {
	limited := http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyMB<<20)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, node.Errf(node.KindValidation, "read body: %v", err)
	}
	if strings.HasPrefix(c.ContentType(), "application/octet-stream") {
		return body, nil
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Value == nil {
		return nil, node.Errf(node.KindValidation, "write body must be JSON with a value field")
	}
	return codec.Decode(wrapper.Value)
}

func (s *Server) handleRead(c *gin.Context) {
	rec, err := s.node.Read(c.Request.Context(), uriParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	if raw, ok := rec.Data.([]byte); ok {
		c.Header("X-Record-Ts", strconv.FormatInt(rec.TS, 10))
		c.Data(http.StatusOK, "application/octet-stream", raw)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ts": rec.TS, "data": codec.WrapBinary(rec.Data)})
}

func (s *Server) handleList(c *gin.Context) {
	opts := node.ListOptions{
		Pattern:   c.Query("pattern"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	opts.Page, _ = strconv.Atoi(c.Query("page"))
	opts.Limit, _ = strconv.Atoi(c.Query("limit"))
	res, err := s.node.List(c.Request.Context(), uriParam(c), opts)
	if err != nil {
		fail(c, err)
		return
	}
	if res.Items == nil {
		res.Items = []node.ListItem{}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.node.Delete(c.Request.Context(), uriParam(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleReadMulti(c *gin.Context) {
	var req struct {
		URIs []string `json:"uris"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, node.Errf(node.KindValidation, "read-multi body: %v", err))
		return
	}
	outcomes, err := s.node.ReadMulti(c.Request.Context(), req.URIs)
	if err != nil {
		fail(c, err)
		return
	}
	succeeded := 0
	results := make([]gin.H, 0, len(outcomes))
	for _, o := range outcomes {
		item := gin.H{"uri": o.URI, "ok": o.OK}
		if o.Record != nil {
			item["record"] = gin.H{"ts": o.Record.TS, "data": codec.WrapBinary(o.Record.Data)}
		}
		if o.Error != "" {
			item["error"] = o.Error
		}
		if o.OK {
			succeeded++
		}
		results = append(results, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"results": results,
		"summary": gin.H{"total": len(outcomes), "succeeded": succeeded, "failed": len(outcomes) - succeeded},
	})
}
