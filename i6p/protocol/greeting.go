package protocol

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/TheusHen/i6p-transfer/i6p/identity"
)

// MaxGreetingSize limits how much of the greeting a Provider reads.
const MaxGreetingSize = 100

var (
	ErrGreetingTooLarge = errors.New("protocol: greeting too large")
	ErrGreetingNotUTF8  = errors.New("protocol: greeting is not valid utf-8")
)

// Greeting is the request text a Fetcher sends before draining.
func Greeting(from identity.PeerID) string {
	return fmt.Sprintf("%s is saying 'hello!'", from)
}

// EchoReply is the datagram a listener sends back for every datagram it receives.
func EchoReply(me identity.PeerID) string {
	return fmt.Sprintf("hi! you connected to %s. bye bye", me)
}

// ReadGreeting reads r to EOF and returns the greeting text. Input longer than
// limit fails with ErrGreetingTooLarge rather than being truncated.
func ReadGreeting(r io.Reader, limit int) (string, error) {
	if limit <= 0 {
		limit = MaxGreetingSize
	}
	b, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return "", err
	}
	if len(b) > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrGreetingTooLarge, limit)
	}
	if !utf8.Valid(b) {
		return "", ErrGreetingNotUTF8
	}
	return string(b), nil
}
