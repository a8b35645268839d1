package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatpoll/telemetry"
)

// Ingester receives cleaned chat lines.
type Ingester interface {
	Ingest(text string) bool
}

// Credentials authenticate the IRC connection. A zero value connects anonymously.
type Credentials struct {
	Username string
	Token    string
}

// CredentialsFunc resolves the credentials to use for the next connection.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// ircClient is the part of *twitch.Client the reader drives.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Depart(channel string)
	Connect() error
	Disconnect() error
}

// Reader streams one Twitch channel's chat into an Ingester.
type Reader struct {
	sink      Ingester
	creds     CredentialsFunc
	newClient func(Credentials) ircClient
	retry     time.Duration

	mu        sync.Mutex
	channel   string
	client    ircClient
	connected bool
	restart   chan struct{}
}

// NewReader returns a reader for channel. creds may be nil for anonymous access.
func NewReader(sink Ingester, channel string, creds CredentialsFunc) *Reader {
	return &Reader{
		sink:      sink,
		creds:     creds,
		newClient: newTwitchClient,
		retry:     5 * time.Second,
		channel:   NormalizeChannel(channel),
		restart:   make(chan struct{}, 1),
	}
}

func newTwitchClient(c Credentials) ircClient {
	if c.Token == "" || c.Username == "" {
		return twitch.NewAnonymousClient()
	}
	return twitch.NewClient(c.Username, OAuthPassword(c.Token))
}

// OAuthPassword formats a token as the IRC PASS value.
func OAuthPassword(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

// NormalizeChannel lowercases a channel name and strips a leading '#'.
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

// Run connects and reads until ctx is canceled, reconnecting after errors or
// a Restart.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		creds := Credentials{}
		if r.creds != nil {
			c, err := r.creds(ctx)
			if err != nil {
				slog.Warn("chat credentials lookup failed; connecting anonymously", slog.Any("err", err))
			} else {
				creds = c
			}
		}

		client := r.newClient(creds)
		client.OnPrivateMessage(r.handle)
		client.OnConnect(func() {
			r.setConnected(true)
			telemetry.RecordChatReconnect()
			slog.Info("chat connected", slog.String("channel", r.Channel()), slog.Bool("anonymous", creds.Token == ""))
		})

		r.mu.Lock()
		r.client = client
		channel := r.channel
		r.mu.Unlock()
		if channel != "" {
			client.Join(channel)
		}

		errc := make(chan error, 1)
		go func() { errc <- client.Connect() }()

		select {
		case <-ctx.Done():
			r.stop(client, errc)
			return nil
		case <-r.restart:
			slog.Info("chat restarting with fresh credentials")
			r.stop(client, errc)
		case err := <-errc:
			r.detach(client)
			if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
				slog.Error("twitch chat connect error", slog.Any("err", err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-r.restart:
			case <-time.After(r.retry):
			}
		}
	}
}

func (r *Reader) stop(client ircClient, errc <-chan error) {
	if err := client.Disconnect(); err != nil {
		slog.Debug("chat disconnect", slog.Any("err", err))
	}
	select {
	case <-errc:
	case <-time.After(5 * time.Second):
		slog.Warn("chat client did not stop in time")
	}
	r.detach(client)
}

func (r *Reader) detach(client ircClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == client {
		r.client = nil
	}
	r.connected = false
}

func (r *Reader) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

// Restart drops the current connection so Run reconnects with new credentials.
func (r *Reader) Restart() {
	select {
	case r.restart <- struct{}{}:
	default:
	}
}

// SwitchChannel leaves the current channel and joins name on the live
// connection. The ledger is shared, so counts from the old channel decay out
// naturally.
func (r *Reader) SwitchChannel(name string) string {
	name = NormalizeChannel(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == r.channel {
		return name
	}
	old := r.channel
	r.channel = name
	if r.client != nil {
		if old != "" {
			r.client.Depart(old)
		}
		if name != "" {
			r.client.Join(name)
		}
	}
	slog.Info("chat channel switched", slog.String("from", old), slog.String("to", name))
	return name
}

// Channel is the channel currently joined (or to be joined).
func (r *Reader) Channel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// Connected reports whether the IRC connection is up.
func (r *Reader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Reader) handle(msg twitch.PrivateMessage) {
	if !strings.EqualFold(msg.Channel, r.Channel()) {
		return
	}
	telemetry.RecordChatMessage()
	telemetry.TimeFunc(telemetry.IngestDuration, func() {
		r.sink.Ingest(CleanMessage(msg.Message))
	})
}
