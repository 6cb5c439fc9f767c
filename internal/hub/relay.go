package hub

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectNATS dials the broker used to relay broadcasts between nodes.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
}

type relayEnvelope struct {
	Node    string          `json:"node"`
	MatchID string          `json:"match_id"`
	Payload json.RawMessage `json:"payload"`
}

// NATSRelay publishes every local broadcast on <prefix>.<match id> and hands
// messages from other nodes back to the hub. Messages carrying this node's
// id are ignored.
type NATSRelay struct {
	conn   *nats.Conn
	prefix string
	nodeID string
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewNATSRelay wraps an open connection.
func NewNATSRelay(conn *nats.Conn, prefix, nodeID string, logger *zap.Logger) *NATSRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSRelay{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		nodeID: nodeID,
		logger: logger,
	}
}

func (r *NATSRelay) subject(matchID string) string {
	return r.prefix + "." + matchID
}

// Publish implements Relay.
func (r *NATSRelay) Publish(matchID string, data []byte) error {
	body, err := json.Marshal(relayEnvelope{Node: r.nodeID, MatchID: matchID, Payload: data})
	if err != nil {
		return err
	}
	return r.conn.Publish(r.subject(matchID), body)
}

// Start subscribes to every match subject and forwards foreign messages to
// deliver.
func (r *NATSRelay) Start(deliver func(matchID string, data []byte)) error {
	sub, err := r.conn.Subscribe(r.prefix+".>", func(m *nats.Msg) {
		r.handle(m, deliver)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *NATSRelay) handle(m *nats.Msg, deliver func(matchID string, data []byte)) {
	var env relayEnvelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		r.logger.Warn("dropping malformed relay message", zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	if env.Node == r.nodeID {
		return
	}
	if env.MatchID == "" {
		env.MatchID = strings.TrimPrefix(m.Subject, r.prefix+".")
	}
	deliver(env.MatchID, env.Payload)
}

// Close drops the subscription and drains the connection.
func (r *NATSRelay) Close() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.logger.Debug("relay unsubscribe", zap.Error(err))
		}
	}
	return r.conn.Drain()
}
