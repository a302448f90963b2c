package adapters

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestFingerprint(t *testing.T) {
	got, err := Fingerprint("sha1", "42", "secret")
	require.NoError(t, err)
	assert.Equal(t, sha1Hex("42#secret"), got)

	got, err = Fingerprint("sha256", "42", "secret")
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("42#secret"), got)

	_, err = Fingerprint("md5", "42", "secret")
	assert.Error(t, err)
}

func TestFingerprinter_Verify(t *testing.T) {
	f := NewFingerprinter("secret", []string{"sha256", "sha1"})

	tests := []struct {
		name        string
		fingerprint string
		wantErr     bool
	}{
		{"sha256", sha256Hex("42#secret"), false},
		{"sha1 still accepted", sha1Hex("42#secret"), false},
		{"wrong secret", sha1Hex("42#other"), true},
		{"other transaction", sha1Hex("43#secret"), true},
		{"uppercase hex", "ABC", true},
		{"trailing space", sha1Hex("42#secret") + " ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Verify(model.Notification{TransactionID: "42", CurrentStatus: "paid", Fingerprint: tt.fingerprint})
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidFingerprint)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFingerprinter_RejectsSingleCharacterMutations(t *testing.T) {
	f := NewFingerprinter("secret", []string{"sha1"})
	valid := sha1Hex("42#secret")
	require.NoError(t, f.Verify(model.Notification{TransactionID: "42", CurrentStatus: "paid", Fingerprint: valid}))

	for i := range valid {
		b := []byte(valid)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		err := f.Verify(model.Notification{TransactionID: "42", CurrentStatus: "paid", Fingerprint: string(b)})
		assert.ErrorIs(t, err, ports.ErrInvalidFingerprint, "mutation at %d accepted", i)
	}
}

func TestFingerprinter_RequiresAllFields(t *testing.T) {
	f := NewFingerprinter("secret", []string{"sha1"})
	fp := sha1Hex("42#secret")

	for _, n := range []model.Notification{
		{CurrentStatus: "paid", Fingerprint: fp},
		{TransactionID: "42", Fingerprint: fp},
		{TransactionID: "42", CurrentStatus: "paid"},
	} {
		assert.ErrorIs(t, f.Verify(n), ports.ErrInvalidFingerprint)
	}
}

func TestFingerprinter_SignUsesFirstAlgorithm(t *testing.T) {
	fp, err := NewFingerprinter("secret", []string{"sha256", "sha1"}).Sign("42")
	require.NoError(t, err)
	assert.Equal(t, sha256Hex("42#secret"), fp)
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte("id=42&current_status=paid&fingerprint=abc&transaction%5Bboleto_url%5D=https%3A%2F%2Fboleto%2F42"))
	require.NoError(t, err)
	assert.Equal(t, model.Notification{
		TransactionID: "42",
		CurrentStatus: "paid",
		Fingerprint:   "abc",
		BoletoURL:     "https://boleto/42",
	}, n)

	n, err = ParseNotification([]byte("id=42"))
	require.NoError(t, err)
	assert.False(t, n.Complete())

	_, err = ParseNotification([]byte("id=%zz"))
	assert.Error(t, err)
}
