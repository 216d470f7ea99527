package pushnotify

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Subscription is one browser push endpoint registered by the GUI. The key
// material comes from the browser's PushManager subscription.
type Subscription struct {
	ID        string    `yaml:"id"`
	Endpoint  string    `yaml:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key"`
	CreatedAt time.Time `yaml:"created_at"`
}

func NewSubscription(endpoint, p256dhKey, authKey string) *Subscription {
	return &Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  endpoint,
		P256dhKey: p256dhKey,
		AuthKey:   authKey,
		CreatedAt: time.Now().UTC(),
	}
}
