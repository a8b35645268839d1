package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

func TestCleanMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello World", "hello world"},
		{"trims and collapses", "  type   1  ", "type 1"},
		{"line breaks", "gg\r\n", "gg"},
		{"repeated word spam", "1 1 1 1", "1"},
		{"repeated word keeps last position", "pog LUL pog", "lul pog"},
		{"repeats ignore case", "PogChamp pogchamp", "pogchamp"},
		{"mention cut", "option 2 @streamer please", "option 2"},
		{"command cut", "!vote 2", ""},
		{"exclamation tail", "wow! that was close", "wow"},
		{"trailing exclamation cut", "hello!", "hello"},
		{"only whole words repeat", "lol lolol", "lol lolol"},
		{"empty", "", ""},
		{"only spaces", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanMessage(tt.in); got != tt.want {
				t.Errorf("CleanMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeChannel(t *testing.T) {
	if got := NormalizeChannel(" #SomeStreamer "); got != "somestreamer" {
		t.Errorf("got %q", got)
	}
}

func TestOAuthPassword(t *testing.T) {
	if got := OAuthPassword("abc"); got != "oauth:abc" {
		t.Errorf("got %q", got)
	}
	if got := OAuthPassword("oauth:abc"); got != "oauth:abc" {
		t.Errorf("got %q", got)
	}
}

type sinkRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (s *sinkRecorder) Ingest(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return text != ""
}

func (s *sinkRecorder) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// fakeIRC records joins/departs and blocks in Connect until Disconnect.
type fakeIRC struct {
	mu        sync.Mutex
	creds     Credentials
	onMessage func(twitch.PrivateMessage)
	onConnect func()
	joined    []string
	departed  []string
	stop      chan struct{}
}

func (f *fakeIRC) OnPrivateMessage(fn func(twitch.PrivateMessage)) {
	f.onMessage = fn
}

func (f *fakeIRC) OnConnect(fn func()) {
	f.onConnect = fn
}

func (f *fakeIRC) Join(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channels...)
}

func (f *fakeIRC) Depart(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.departed = append(f.departed, channel)
}

func (f *fakeIRC) Connect() error {
	f.onConnect()
	<-f.stop
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	close(f.stop)
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	clients []*fakeIRC
}

func (d *fakeDialer) dial(c Credentials) ircClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &fakeIRC{creds: c, stop: make(chan struct{})}
	d.clients = append(d.clients, f)
	return f
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) latest() *fakeIRC {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[len(d.clients)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startReader(t *testing.T, sink Ingester, channel string, creds CredentialsFunc) (*Reader, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	r := NewReader(sink, channel, creds)
	r.newClient = d.dial
	r.retry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
	waitFor(t, r.Connected)
	return r, d
}

func TestReaderIngestsCleanedMessages(t *testing.T) {
	sink := &sinkRecorder{}
	r, d := startReader(t, sink, "#Streamer", nil)

	c := d.latest()
	if len(c.joined) != 1 || c.joined[0] != "streamer" {
		t.Fatalf("joined = %v", c.joined)
	}
	if c.creds != (Credentials{}) {
		t.Errorf("expected anonymous credentials, got %+v", c.creds)
	}

	c.onMessage(twitch.PrivateMessage{Channel: "streamer", Message: "Type 1 1 1 @mod"})
	c.onMessage(twitch.PrivateMessage{Channel: "someoneelse", Message: "ignored"})

	got := sink.Lines()
	if len(got) != 1 || got[0] != "type 1" {
		t.Errorf("ingested = %v", got)
	}
	if r.Channel() != "streamer" {
		t.Errorf("channel = %q", r.Channel())
	}
}

func TestReaderSwitchChannel(t *testing.T) {
	sink := &sinkRecorder{}
	r, d := startReader(t, sink, "first", nil)

	if got := r.SwitchChannel("#Second"); got != "second" {
		t.Errorf("SwitchChannel returned %q", got)
	}
	r.SwitchChannel("second")

	c := d.latest()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.departed) != 1 || c.departed[0] != "first" {
		t.Errorf("departed = %v", c.departed)
	}
	if len(c.joined) != 2 || c.joined[1] != "second" {
		t.Errorf("joined = %v", c.joined)
	}
	if d.count() != 1 {
		t.Errorf("switch must not reconnect, dialed %d times", d.count())
	}
}

func TestReaderRestartUsesFreshCredentials(t *testing.T) {
	var mu sync.Mutex
	token := ""
	creds := func(ctx context.Context) (Credentials, error) {
		mu.Lock()
		defer mu.Unlock()
		return Credentials{Username: "bot", Token: token}, nil
	}
	r, d := startReader(t, &sinkRecorder{}, "chan", creds)

	mu.Lock()
	token = "fresh"
	mu.Unlock()
	r.Restart()

	waitFor(t, func() bool { return d.count() == 2 && r.Connected() })
	if got := d.latest().creds.Token; got != "fresh" {
		t.Errorf("token = %q, want fresh", got)
	}
}
