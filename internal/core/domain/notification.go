package domain

const (
	NotificationAddress NotificationType = iota
	NotificationBlock
)

type NotificationType int

func (t NotificationType) String() string {
	switch t {
	case NotificationAddress:
		return "notification"
	case NotificationBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Notification is a message pushed to the host, either about a change in
// one of the watched addresses/accounts, or about a new block.
type Notification struct {
	Type       NotificationType
	Descriptor string
	Address    string
	Tx         *Transaction
	Block      *BlockHeader
}
