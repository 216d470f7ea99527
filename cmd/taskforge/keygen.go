package main

import (
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// vapidKeygen prints a fresh VAPID key pair in env-var form, ready for the
// daemon's push notification config.
func vapidKeygen() error {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	fmt.Printf("TASKFORGE_VAPID_PUBLIC_KEY=%s\n", public)
	fmt.Printf("TASKFORGE_VAPID_PRIVATE_KEY=%s\n", private)
	return nil
}
