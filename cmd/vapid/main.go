// Command vapid prints a fresh VAPID key pair for web push, formatted as
// environment variables.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	subject := flag.String("subject", "mailto:admin@murmur.local", "contact URI sent to push services")
	flag.Parse()

	// GenerateVAPIDKeys returns the private key first.
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		slog.Error("failed to generate VAPID keys", "error", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "Add these to your environment or .env file:")
	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", privateKey)
	fmt.Printf("VAPID_SUBJECT=%s\n", *subject)
}
