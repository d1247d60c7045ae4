package session

// ProviderState is where a provider, or one of its connections, is.
type ProviderState uint8

const (
	ProviderBinding ProviderState = iota
	ProviderListening
	ProviderAwaitingConnection
	ProviderHandlingGreeting
	ProviderSending
	ProviderAwaitingClose
	ProviderClosed
)

func (s ProviderState) String() string {
	switch s {
	case ProviderBinding:
		return "binding"
	case ProviderListening:
		return "listening"
	case ProviderAwaitingConnection:
		return "awaiting-connection"
	case ProviderHandlingGreeting:
		return "handling-greeting"
	case ProviderSending:
		return "sending"
	case ProviderAwaitingClose:
		return "awaiting-close"
	case ProviderClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FetcherState is the phase a Fetch is in.
type FetcherState uint8

const (
	FetcherResolving FetcherState = iota
	FetcherConnecting
	FetcherGreeting
	FetcherDraining
	FetcherReporting
	FetcherClosing
	FetcherClosed
)

func (s FetcherState) String() string {
	switch s {
	case FetcherResolving:
		return "resolving"
	case FetcherConnecting:
		return "connecting"
	case FetcherGreeting:
		return "greeting"
	case FetcherDraining:
		return "draining"
	case FetcherReporting:
		return "reporting"
	case FetcherClosing:
		return "closing"
	case FetcherClosed:
		return "closed"
	default:
		return "unknown"
	}
}
