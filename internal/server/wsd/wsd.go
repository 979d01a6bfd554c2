// Package wsd exposes a node over one WebSocket endpoint. Frames are text
// JSON {id, op, payload} answered by {id, ok, data?, error?}; the server
// always echoes the client-chosen id. Binary values travel under the same
// base64 sentinel the persistent stores use.
package wsd

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// Frame is a client request.
type Frame struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Reply answers one Frame.
type Reply struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server upgrades connections and serves node ops over them.
type Server struct {
	node node.Node
	log  *zap.Logger
	up   websocket.Upgrader
}

func New(n node.Node, log *zap.Logger) *Server {
	return &Server{
		node: n,
		log:  log,
		up: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket endpoint on a router group.
func (s *Server) Register(rg *gin.RouterGroup) {
	rg.GET("/ws", s.handleWS)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// One writer mutex per connection; frames are handled concurrently but
	// responses are serialized onto the socket.
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.send(conn, &writeMu, Reply{Error: "validation: malformed frame"})
			continue
		}
		wg.Add(1)
		go func(f Frame) {
			defer wg.Done()
			s.send(conn, &writeMu, s.dispatch(c, f))
		}(f)
	}
}

func (s *Server) send(conn *websocket.Conn, mu *sync.Mutex, r Reply) {
	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteJSON(r); err != nil {
		s.log.Warn("ws write failed", zap.Error(err))
	}
}

func (s *Server) dispatch(c *gin.Context, f Frame) Reply {
	data, err := s.handle(c, f)
	if err != nil {
		return Reply{ID: f.ID, Error: node.Wrap(node.KindBackend, err).Error()}
	}
	return Reply{ID: f.ID, OK: true, Data: data}
}

func (s *Server) handle(c *gin.Context, f Frame) (any, error) {
	ctx := c.Request.Context()
	switch f.Op {
	case "receive":
		var p struct {
			URI   string          `json:"uri"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Value == nil {
			return nil, node.Errf(node.KindValidation, "receive payload must carry uri and value")
		}
		value, err := codec.Decode(p.Value)
		if err != nil {
			return nil, node.Wrap(node.KindValidation, err)
		}
		rcpt, err := s.node.Receive(ctx, p.URI, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"resolvedUri": rcpt.ResolvedURI, "ts": rcpt.TS, "children": rcpt.Children}, nil

	case "read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, node.Errf(node.KindValidation, "read payload must carry uri")
		}
		rec, err := s.node.Read(ctx, p.URI)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ts": rec.TS, "data": codec.WrapBinary(rec.Data)}, nil

	case "readMulti":
		var p struct {
			URIs []string `json:"uris"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, node.Errf(node.KindValidation, "readMulti payload must carry uris")
		}
		outcomes, err := s.node.ReadMulti(ctx, p.URIs)
		if err != nil {
			return nil, err
		}
		results := make([]map[string]any, 0, len(outcomes))
		for _, o := range outcomes {
			item := map[string]any{"uri": o.URI, "ok": o.OK}
			if o.Record != nil {
				item["record"] = map[string]any{"ts": o.Record.TS, "data": codec.WrapBinary(o.Record.Data)}
			}
			if o.Error != "" {
				item["error"] = o.Error
			}
			results = append(results, item)
		}
		return map[string]any{"results": results}, nil

	case "list":
		var p struct {
			URI       string `json:"uri"`
			Page      int    `json:"page"`
			Limit     int    `json:"limit"`
			Pattern   string `json:"pattern"`
			SortBy    string `json:"sortBy"`
			SortOrder string `json:"sortOrder"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, node.Errf(node.KindValidation, "list payload must carry uri")
		}
		res, err := s.node.List(ctx, p.URI, node.ListOptions{
			Page: p.Page, Limit: p.Limit, Pattern: p.Pattern,
			SortBy: p.SortBy, SortOrder: p.SortOrder,
		})
		if err != nil {
			return nil, err
		}
		if res.Items == nil {
			res.Items = []node.ListItem{}
		}
		return res, nil

	case "delete":
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, node.Errf(node.KindValidation, "delete payload must carry uri")
		}
		if err := s.node.Delete(ctx, p.URI); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil

	case "health":
		return s.node.Health(ctx), nil

	case "listPrograms":
		programs, err := s.node.ListPrograms(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"programs": programs}, nil

	default:
		return nil, node.Errf(node.KindValidation, "unknown op %q", f.Op)
	}
}
