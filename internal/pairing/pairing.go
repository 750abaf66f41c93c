// Package pairing implements the one-time flow that associates this
// device with a user account: show a QR code linking to the pairing
// web app, then poll the backend until a user has claimed the device.
package pairing

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
)

// DefaultPollInterval is how often the backend is asked whether the
// device has been claimed.
const DefaultPollInterval = 8 * time.Second

// StatusChecker is the slice of the cloud client the pairing flow
// needs.
type StatusChecker interface {
	// PairingStatus returns the account uid once the device is
	// claimed, or empty while pairing is still pending.
	PairingStatus(ctx context.Context) (string, error)
}

// NewNonce returns a fresh pairing nonce. Persisted alongside the
// device id so the backend can verify the claim came from this boot
// of the pairing flow.
func NewNonce() string {
	return uuid.NewString()
}

// BuildURL returns the pairing web app URL the user's phone opens.
func BuildURL(appURL, mac, nonce string) string {
	q := url.Values{}
	q.Set("mac", mac)
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	return appURL + "?" + q.Encode()
}

// ShowQR writes pairingURL to w as a terminal QR code, plus the URL
// as text for setups where the QR cannot be scanned.
func ShowQR(w io.Writer, pairingURL string) {
	fmt.Fprintln(w, "Scan this QR code with your phone to sign in and pair the device:")
	qrterminal.GenerateWithConfig(pairingURL, qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
	fmt.Fprintf(w, "Pairing URL: %s\n", pairingURL)
}

// WaitForPairing polls the backend until it reports an account uid
// for this device. Poll errors are logged and retried; only context
// cancellation ends the wait without a result.
func WaitForPairing(ctx context.Context, c StatusChecker, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		uid, err := c.PairingStatus(ctx)
		if err != nil {
			log.Printf("pairing: status check failed: %v", err)
		} else if uid != "" {
			log.Printf("pairing: confirmed by backend, uid=%s", uid)
			return uid, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}
