//go:generate go run go.uber.org/mock/mockgen -source=observer.go -destination=../mocks/mock_observer.go -package=mocks
package server

// Disconnect reasons reported to the Observer.
const (
	ReasonDisconnect   = "disconnect"
	ReasonExit         = "exit"
	ReasonTransport    = "transport"
	ReasonProtocol     = "protocol"
	ReasonSlowConsumer = "slow_consumer"
	ReasonShutdown     = "shutdown"
)

// Observer is notified of relay events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// Registered is called once a client reached the active state.
	Registered(identity string)
	// Rejected is called with the coded reply of a failed handshake.
	Rejected(reply string)
	// Disconnected is called when an active client is removed.
	Disconnected(identity, reason string)
	// Routed is called for every chat line with its recipient count.
	Routed(recipients int)
	// Attached is called when an attachment body was fully relayed.
	Attached(recipients int, bytes int64)
}

type nopObserver struct{}

func (nopObserver) Registered(string)           {}
func (nopObserver) Rejected(string)             {}
func (nopObserver) Disconnected(string, string) {}
func (nopObserver) Routed(int)                  {}
func (nopObserver) Attached(int, int64)         {}
