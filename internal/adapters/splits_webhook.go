package adapters

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"strings"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

const fingerprintSeparator = "#"

// Fingerprinter authenticates Splits notifications. The first configured
// algorithm is used to sign; any configured algorithm is accepted on verify.
type Fingerprinter struct {
	secret     string
	algorithms []string
}

func NewFingerprinter(secret string, algorithms []string) *Fingerprinter {
	if len(algorithms) == 0 {
		algorithms = []string{"sha1"}
	}
	return &Fingerprinter{secret: secret, algorithms: algorithms}
}

func newHash(alg string) (hash.Hash, error) {
	switch strings.ToLower(alg) {
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	}
	return nil, fmt.Errorf("unsupported fingerprint algorithm %q", alg)
}

// Fingerprint computes hex(alg(transactionID + "#" + secret)).
func Fingerprint(alg, transactionID, secret string) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	h.Write([]byte(transactionID + fingerprintSeparator + secret))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *Fingerprinter) Sign(transactionID string) (string, error) {
	return Fingerprint(f.algorithms[0], transactionID, f.secret)
}

func (f *Fingerprinter) Verify(n model.Notification) error {
	if !n.Complete() {
		return fmt.Errorf("%w: id, current_status and fingerprint are required", ports.ErrInvalidFingerprint)
	}
	for _, alg := range f.algorithms {
		want, err := Fingerprint(alg, n.TransactionID, f.secret)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(n.Fingerprint)) == 1 {
			return nil
		}
	}
	return ports.ErrInvalidFingerprint
}

// ParseNotification decodes a form-encoded IPN body.
func ParseNotification(raw []byte) (model.Notification, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return model.Notification{}, fmt.Errorf("invalid notification body: %w", err)
	}
	return model.Notification{
		TransactionID: strings.TrimSpace(form.Get("id")),
		CurrentStatus: strings.TrimSpace(form.Get("current_status")),
		Fingerprint:   form.Get("fingerprint"),
		BoletoURL:     strings.TrimSpace(form.Get("transaction[boleto_url]")),
	}, nil
}

var _ ports.INotificationVerifier = (*Fingerprinter)(nil)
