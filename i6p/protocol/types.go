package protocol

const (
	// TransferALPN identifies the bulk transfer protocol. Both sides must offer it.
	TransferALPN = "i6p/transfer/0"
	// EchoALPN identifies the datagram echo protocol.
	EchoALPN = "i6p/echo/0"
)

// CloseCode is the application error code carried by a connection close.
type CloseCode uint64

const (
	CloseDone          CloseCode = 0
	CloseBadGreeting   CloseCode = 1
	CloseSendFailed    CloseCode = 2
	CloseInternalError CloseCode = 3
)

func (c CloseCode) String() string {
	switch c {
	case CloseDone:
		return "DONE"
	case CloseBadGreeting:
		return "BAD_GREETING"
	case CloseSendFailed:
		return "SEND_FAILED"
	case CloseInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}
