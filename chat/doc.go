// Package chat connects to a Twitch channel and feeds its messages into the
// frequency ledger.
//
// It provides:
//   - CleanMessage: the text normalization applied to every chat line before
//     it reaches the ledger (repeated words, mentions and "!" fragments are
//     dropped, whitespace collapsed, everything lowercased).
//   - Reader: an IRC client (github.com/gempir/go-twitch-irc) that joins one
//     channel at a time, can switch channels without a reconnect, and
//     reconnects with fresh credentials on Restart.
//
// Credentials: the IRC client uses the bot username plus a user OAuth token
// with the chat:read scope when one is available (config first, then the
// token stored by the OAuth login flow). Without one it connects anonymously,
// which Twitch allows for reading chat.
package chat
