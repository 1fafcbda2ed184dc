package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceIdentity is an ECDSA P-256 key pair registered with the backend
// to authenticate this client installation. The private key is owned
// exclusively by this package.
type DeviceIdentity struct {
	privateKey *ecdsa.PrivateKey

	// DeviceID identifies this installation.
	DeviceID string

	// CreatedAt is when the key pair was generated.
	CreatedAt time.Time
}

// GenerateIdentity creates a new device identity on the P-256 curve.
func GenerateIdentity() (*DeviceIdentity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}
	return &DeviceIdentity{
		privateKey: key,
		DeviceID:   uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// PublicKeyBase64 returns the public key in uncompressed point encoding
// (0x04 tag byte followed by the X and Y coordinates), base64-encoded
// for transmission. This is the only key material that ever leaves the
// process.
func (d *DeviceIdentity) PublicKeyBase64() (string, error) {
	ecdhKey, err := d.privateKey.PublicKey.ECDH()
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	// ECDH().Bytes() is the uncompressed SEC1 point: 0x04 || X || Y.
	return base64.StdEncoding.EncodeToString(ecdhKey.Bytes()), nil
}

// Sign signs payload with the device private key: ECDSA over a SHA-512
// digest, ASN.1 signature encoding, base64 output.
func (d *DeviceIdentity) Sign(payload []byte) (string, error) {
	digest := sha512.Sum512(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, d.privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature produced by Sign against payload.
// Used in tests and by server-side tooling; the client itself only signs.
func (d *DeviceIdentity) Verify(payload []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha512.Sum512(payload)
	return ecdsa.VerifyASN1(&d.privateKey.PublicKey, digest[:], sig)
}

// String returns a redacted description. The private key is never part
// of any textual representation.
func (d *DeviceIdentity) String() string {
	return fmt.Sprintf("DeviceIdentity(%s)", d.DeviceID)
}

// serializedIdentity is the JSON shape persisted to the credential store.
type serializedIdentity struct {
	DeviceID   string    `json:"device_id"`
	CreatedAt  time.Time `json:"created_at"`
	PrivateKey string    `json:"private_key"` // base64 SEC1 DER
}

// Serialize encodes the identity (including the private key) for the
// credential store. Callers must hand the result only to a Store; it
// must never be logged or transmitted.
func (d *DeviceIdentity) Serialize() (string, error) {
	der, err := x509.MarshalECPrivateKey(d.privateKey)
	if err != nil {
		return "", fmt.Errorf("serializing private key: %w", err)
	}
	data, err := json.Marshal(serializedIdentity{
		DeviceID:   d.DeviceID,
		CreatedAt:  d.CreatedAt,
		PrivateKey: base64.StdEncoding.EncodeToString(der),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseIdentity decodes an identity previously produced by Serialize.
func ParseIdentity(serialized string) (*DeviceIdentity, error) {
	var s serializedIdentity
	if err := json.Unmarshal([]byte(serialized), &s); err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	der, err := base64.StdEncoding.DecodeString(s.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &DeviceIdentity{
		privateKey: key,
		DeviceID:   s.DeviceID,
		CreatedAt:  s.CreatedAt,
	}, nil
}
