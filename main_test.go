package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/onnwee/chatpoll/chat"
	"github.com/onnwee/chatpoll/config"
	"github.com/onnwee/chatpoll/ledger"
	"github.com/onnwee/chatpoll/oauth"
)

func TestReplayCountsCleanedLines(t *testing.T) {
	color.NoColor = true
	in := strings.NewReader("Pog\npog pog pog\n!vote 2\nKEKW @streamer\n\npog\n")
	var out bytes.Buffer
	if err := replay(in, &out, ledger.DefaultSettings(), true, 0); err != nil {
		t.Fatalf("replay: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "6 lines, 4 counted, 2 distinct") {
		t.Errorf("summary missing:\n%s", got)
	}
	first := strings.Index(got, "pog")
	second := strings.Index(got, "kekw")
	if first < 0 || second < 0 || first > second {
		t.Errorf("expected pog ranked above kekw:\n%s", got)
	}
}

func TestReplayRawAndEvery(t *testing.T) {
	color.NoColor = true
	in := strings.NewReader("A\nb\n")
	var out bytes.Buffer
	if err := replay(in, &out, ledger.DefaultSettings(), false, 1); err != nil {
		t.Fatalf("replay: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "after 1 lines") || !strings.Contains(got, "after 2 lines") {
		t.Errorf("intermediate tables missing:\n%s", got)
	}
	if !strings.Contains(got, " A") {
		t.Errorf("raw mode should keep case:\n%s", got)
	}
}

func TestReplayRejectsBadSettings(t *testing.T) {
	s := ledger.DefaultSettings()
	s.Threshold = 3
	if err := replay(strings.NewReader(""), &bytes.Buffer{}, s, true, 0); err == nil {
		t.Fatal("expected invalid setting error")
	}
}

func TestPrintTableEmpty(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	printTable(&out, nil)
	if !strings.Contains(out.String(), "(empty)") {
		t.Errorf("got %q", out.String())
	}
}

func TestNewLoggerLevels(t *testing.T) {
	log, closer := newLogger("debug", "json", "")
	defer closer.Close()
	if !log.Enabled(t.Context(), -4) {
		t.Error("debug should be enabled")
	}
	log, _ = newLogger("bogus", "text", "")
	if log.Enabled(t.Context(), -4) {
		t.Error("unknown level should fall back to info")
	}
}

func TestChatCredentials(t *testing.T) {
	ctx := context.Background()
	store := oauth.NewMemoryStore()

	creds, err := chatCredentials(&config.Config{}, store)(ctx)
	if err != nil || creds != (chat.Credentials{}) {
		t.Errorf("no token: got %+v, %v", creds, err)
	}

	_ = store.PutToken(ctx, oauth.ProviderTwitch, oauth.Token{AccessToken: "stored", Login: "bot", Expiry: time.Now().Add(time.Hour)})
	creds, _ = chatCredentials(&config.Config{}, store)(ctx)
	if creds != (chat.Credentials{Username: "bot", Token: "stored"}) {
		t.Errorf("stored token: got %+v", creds)
	}

	cfg := &config.Config{TwitchBotUsername: "envbot", TwitchOAuthToken: "oauth:env"}
	creds, _ = chatCredentials(cfg, store)(ctx)
	if creds.Username != "envbot" || creds.Token != "oauth:env" {
		t.Errorf("env creds should win: got %+v", creds)
	}

	_ = store.PutToken(ctx, oauth.ProviderTwitch, oauth.Token{AccessToken: "old", Login: "bot", Expiry: time.Now().Add(-time.Minute)})
	creds, _ = chatCredentials(&config.Config{}, store)(ctx)
	if creds != (chat.Credentials{}) {
		t.Errorf("expired token should read anonymously: got %+v", creds)
	}
}

func TestApplyFileConfig(t *testing.T) {
	l, err := ledger.New(ledger.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	reader := chat.NewReader(l, "first", nil)

	fc, err := config.ParseFile([]byte("channel: Second\nledger:\n  top: 4\n"))
	if err != nil {
		t.Fatal(err)
	}
	applyFileConfig(fc, l, reader)
	if l.Settings().Top != 4 {
		t.Errorf("top = %d", l.Settings().Top)
	}
	if reader.Channel() != "second" {
		t.Errorf("channel = %q", reader.Channel())
	}

	fc, _ = config.ParseFile([]byte("ledger:\n  top: 0\n"))
	applyFileConfig(fc, l, reader)
	if l.Settings().Top != 4 {
		t.Errorf("invalid reload applied: top = %d", l.Settings().Top)
	}
}
