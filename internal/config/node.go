package config

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/compose"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
	"github.com/statewire/statewire/internal/store/httpclient"
	"github.com/statewire/statewire/internal/store/memory"
	"github.com/statewire/statewire/internal/store/mongostore"
	"github.com/statewire/statewire/internal/store/postgres"
	"github.com/statewire/statewire/internal/store/rediskv"
	"github.com/statewire/statewire/internal/store/sqlite"
	"github.com/statewire/statewire/internal/store/wsclient"
)

// OpenBackend turns one backend URL into a store node.
func OpenBackend(ctx context.Context, rawURL string, log *zap.Logger) (node.Node, error) {
	switch {
	case rawURL == "mem://" || rawURL == "mem":
		return memory.New(), nil

	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, node.Errf(node.KindBackend, "redis url: %v", err)
		}
		return rediskv.New(redis.NewClient(opts), ""), nil

	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		db, err := sql.Open("postgres", rawURL)
		if err != nil {
			return nil, node.Errf(node.KindBackend, "postgres open: %v", err)
		}
		st := postgres.New(db)
		if err := st.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return st, nil

	case strings.HasPrefix(rawURL, "mongodb://"), strings.HasPrefix(rawURL, "mongodb+srv://"):
		return mongostore.Connect(ctx, rawURL, "statewire", "records")

	case strings.HasPrefix(rawURL, "sqlite://"):
		return sqlite.Open(ctx, strings.TrimPrefix(rawURL, "sqlite://"))

	case strings.HasPrefix(rawURL, "ws://"), strings.HasPrefix(rawURL, "wss://"):
		return wsclient.Dial(ctx, rawURL, log, wsclient.Options{Reconnect: true})

	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return httpclient.New(rawURL), nil

	default:
		return nil, node.Errf(node.KindBackend, "unknown backend url %q", rawURL)
	}
}

// BuildNode assembles the configured topology: broadcast over the write
// backends, first-match over the read backends, paired and wrapped in
// schema validation.
func BuildNode(ctx context.Context, cfg NodeConfig, log *zap.Logger) (node.Node, *schema.Registry, error) {
	reg, err := schema.Module(cfg.SchemaModule)
	if err != nil {
		return nil, nil, err
	}

	open := func(urls []string) ([]node.Node, error) {
		nodes := make([]node.Node, 0, len(urls))
		for _, u := range urls {
			n, err := OpenBackend(ctx, u, log)
			if err != nil {
				for _, prev := range nodes {
					prev.Close()
				}
				return nil, err
			}
			nodes = append(nodes, n)
		}
		return nodes, nil
	}

	writes, err := open(cfg.WriteBackends)
	if err != nil {
		return nil, nil, err
	}
	if len(writes) == 0 {
		writes = []node.Node{memory.New()}
	}
	var writeNode node.Node = writes[0]
	if len(writes) > 1 {
		writeNode = compose.NewBroadcast(writes...)
	}

	inner := writeNode
	if len(cfg.ReadBackends) > 0 {
		reads, err := open(cfg.ReadBackends)
		if err != nil {
			writeNode.Close()
			return nil, nil, err
		}
		var readNode node.Node = reads[0]
		if len(reads) > 1 {
			readNode = compose.NewFirstMatch(reads...)
		}
		inner = compose.NewReadWrite(writeNode, readNode)
	}

	return compose.NewValidated(reg, inner), reg, nil
}
