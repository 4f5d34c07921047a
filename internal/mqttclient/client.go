package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/transcript"
)

// Client publishes merged transcripts to an MQTT broker. It never subscribes.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	skipped   atomic.Int64
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic_prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// PublishTranscript sends the merged record to {prefix}/{session_id}/transcript.
// It does not wait for the broker: updates made while disconnected are skipped,
// since the store keeps the authoritative copy.
func (c *Client) PublishTranscript(t *transcript.Transcript) {
	if !c.IsConnected() {
		c.skipped.Add(1)
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		c.log.Error().Err(err).Str("key", t.Key().String()).Msg("marshal transcript for mqtt")
		return
	}
	c.conn.Publish(TranscriptTopic(c.prefix, t.SessionID), 1, false, payload)
}

// Skipped reports how many updates were not published because the broker was unreachable.
func (c *Client) Skipped() int64 {
	return c.skipped.Load()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// TranscriptTopic builds the publish topic for a session. Topic separators and
// wildcards in the session ID are replaced so one session maps to one level.
func TranscriptTopic(prefix, sessionID string) string {
	level := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(sessionID)
	if prefix == "" {
		return level + "/transcript"
	}
	return prefix + "/" + level + "/transcript"
}
