package link

import "context"

// Advertisement is one device seen during discovery.
type Advertisement struct {
	ID   string
	Name string
}

// Conn is an established link to the console: one write channel for
// commands and one notification channel for responses. The notification
// channel closes when the link drops, whatever the cause.
type Conn interface {
	Write(cmd []byte) error
	Notifications() <-chan []byte
	Close() error
}

// Transport abstracts the wireless stack. Scan emits advertisements until
// the context is cancelled; implementations stop the radio scan on cancel.
type Transport interface {
	Scan(ctx context.Context) (<-chan Advertisement, error)
	Connect(ctx context.Context, id string) (Conn, error)
}
