package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	leg_metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"

	"github.com/coalescelib/coalesce"
)

// GossipConfig configures a `Gossip` membership.
type GossipConfig struct {
	// NodeName is the name advertised to other members. For a
	// well-behaving cluster, the name MUST be unique.
	NodeName string

	// BindAddr and BindPort are where the gossip protocol listens.
	// A zero port picks a free one.
	BindAddr string
	BindPort int

	// Neighbours are tried initially to join the cluster.
	Neighbours []string

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler

	// MetricLabels to add to every metric emitted by the membership.
	MetricLabels []metrics.Label
}

// Gossip resolves logical peer names into dialable addresses through
// cluster membership. It assumes the remote service is reachable at the
// address a member advertises, which holds when the service shares its
// transport with the gossip layer.
type Gossip struct {
	ml *memberlist.Memberlist
}

// NewGossip starts a membership and joins the configured neighbours.
func NewGossip(cfg GossipConfig) (*Gossip, error) {
	mlCfg := memberlist.DefaultLANConfig()
	if cfg.NodeName != "" {
		mlCfg.Name = cfg.NodeName
	}
	if cfg.BindAddr != "" {
		mlCfg.BindAddr = cfg.BindAddr
	}
	mlCfg.BindPort = cfg.BindPort
	mlCfg.AdvertisePort = cfg.BindPort
	if cfg.LogHandler != nil {
		mlCfg.Logger = slog.NewLogLogger(cfg.LogHandler, slog.LevelDebug)
	}

	// memberlist still speaks the legacy metrics API.
	mlCfg.MetricLabels = make([]leg_metrics.Label, len(cfg.MetricLabels))
	for i, label := range cfg.MetricLabels {
		mlCfg.MetricLabels[i] = leg_metrics.Label{
			Name:  label.Name,
			Value: label.Value,
		}
	}

	ml, err := memberlist.Create(mlCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGossipCreate, err)
	}

	if len(cfg.Neighbours) > 0 {
		if _, err := ml.Join(cfg.Neighbours); err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("%w: %w", ErrGossipJoin, err)
		}
	}

	return &Gossip{ml: ml}, nil
}

// Addr returns the local member's advertised host:port, usable as a
// neighbour address by other nodes.
func (g *Gossip) Addr() string {
	node := g.ml.LocalNode()
	return net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
}

// Resolve maps a member name to its advertised host:port.
func (g *Gossip) Resolve(name string) (string, error) {
	for _, member := range g.ml.Members() {
		if member.Name == name {
			return net.JoinHostPort(member.Addr.String(), strconv.Itoa(int(member.Port))), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrHostNotFound, name)
}

// Close leaves the cluster gracefully and releases gossip resources.
func (g *Gossip) Close() error {
	if err := g.ml.Leave(time.Second); err != nil {
		g.ml.Shutdown()
		return err
	}
	return g.ml.Shutdown()
}

// Resolved wraps a factory so that the coordinator's target is treated as
// a logical member name and resolved through the membership right before
// each connect attempt. Resolution happens per attempt on purpose: a peer
// that rescheduled to a new address is picked up on the next
// establishment.
func Resolved(g *Gossip, factory coalesce.EndpointFactory) coalesce.EndpointFactory {
	return coalesce.FactoryFunc(func(ctx context.Context, target string) (coalesce.RemoteEndpoint, error) {
		addr, err := g.Resolve(target)
		if err != nil {
			return nil, err
		}
		return factory.Connect(ctx, addr)
	})
}
