// Package token mints and verifies the opaque signed tokens that correlate
// open/click events back to a campaign and recipient. Tokens carry only a
// one-way hash of the recipient address, never the address itself.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payload is the authenticated content of a tracking token. Field names
// are kept short so tokens stay compact inside URLs.
type Payload struct {
	CampaignID int    `json:"c"`
	EmailHash  string `json:"e"`
	OwnerID    int    `json:"u"`
	Nonce      string `json:"n"`
	IssuedAt   int64  `json:"t"`
}

type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// HashEmail returns the one-way hash under which a recipient address
// appears in tokens and tracking events.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:16])
}

// Mint builds a signed token for one recipient of one campaign.
func (c *Codec) Mint(campaignID int, email string, ownerID int) (string, error) {
	payload := Payload{
		CampaignID: campaignID,
		EmailHash:  HashEmail(email),
		OwnerID:    ownerID,
		Nonce:      uuid.NewString(),
		IssuedAt:   time.Now().Unix(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks a token's authentication tag and returns its payload.
// Any malformed encoding, missing separator, or tag mismatch yields
// ok=false; Verify never panics or errors into caller logic, because
// tracking is best-effort.
func (c *Codec) Verify(token string) (*Payload, bool) {
	encoded, tag, found := strings.Cut(token, ".")
	if !found || encoded == "" || tag == "" {
		return nil, false
	}

	expected := c.sign(encoded)
	if !hmac.Equal([]byte(tag), []byte(expected)) {
		return nil, false
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

func (c *Codec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
