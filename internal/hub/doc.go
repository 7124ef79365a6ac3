// Package hub aggregates authorization scopes requested by independently built
// consumers and performs a single lazy authentication handshake whose session
// is shared by all of them.
package hub
