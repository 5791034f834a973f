package events

// Name specifies the types of events the vault stream sends to subscribers.
type Name string

const (
	HeartbeatEvent    Name = "heartbeat"
	VaultAccountEvent Name = "vault-account"
)

func (n Name) String() string {
	return string(n)
}
