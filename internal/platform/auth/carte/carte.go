// Package carte authenticates inbound requests bearing cartes: signed,
// self-contained tokens in which a node owner grants scopes to a client.
//
// On the wire a carte is the base64url encoding of a CARTE fingerprint
// followed by the owner's Ed25519 signature over it.
package carte

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
)

const saltSize = 8

// Carte is a decoded carte.
type Carte struct {
	Version int
	// Address is the client IP the carte is bound to, or nil.
	Address     net.IP
	Beginning   time.Time
	Deadline    time.Time
	NodeName    string
	OwnerName   string
	ClientScope domain.ClientScope
	AdminScope  domain.AdminScope
	Salt        []byte

	Signature []byte

	payload fingerprint.Fingerprint
}

// decodeToken reverses the base64url wrapping. Padding is tolerated.
func decodeToken(token string) ([]byte, bool) {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return nil, false
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

// parse splits a decoded carte into its payload and signature.
func parse(codec *fingerprint.Codec, blob []byte) (Carte, error) {
	fp, rest, err := codec.DecodeFirst(blob)
	if err != nil {
		return Carte{}, err
	}
	if len(rest) != ed25519.SignatureSize {
		return Carte{}, fmt.Errorf("%w: signature has %d bytes", fingerprint.ErrMalformed, len(rest))
	}

	c := Carte{
		Version:   fp.SchemaVersion(),
		Signature: append([]byte(nil), rest...),
		payload:   fp,
	}
	switch p := fp.(type) {
	case *fingerprint.CarteV0:
		err = c.fill(p.Address, p.Beginning, p.Deadline, p.NodeName, p.OwnerName, p.ClientScope, p.AdminScope)
	case *fingerprint.CarteV1:
		err = c.fill(p.Address, p.Beginning, p.Deadline, p.NodeName, p.OwnerName, p.ClientScope, p.AdminScope)
		c.Salt = p.Salt
	}
	if err != nil {
		return Carte{}, err
	}
	return c, nil
}

// errBadAddress marks a bound address that is neither IPv4 nor IPv6. Such a
// carte is rejected rather than treated as unbound.
var errBadAddress = errors.New("bound address is neither 4 nor 16 bytes")

func (c *Carte) fill(addr []byte, begin, deadline int64, node, owner string, clientScope, adminScope uint64) error {
	switch len(addr) {
	case 0:
	case net.IPv4len, net.IPv6len:
		c.Address = net.IP(append([]byte(nil), addr...))
	default:
		return fmt.Errorf("%w: got %d bytes", errBadAddress, len(addr))
	}
	c.Beginning = time.Unix(begin, 0).UTC()
	c.Deadline = time.Unix(deadline, 0).UTC()
	c.NodeName = node
	c.OwnerName = owner
	c.ClientScope = domain.ClientScope(clientScope)
	c.AdminScope = domain.AdminScope(adminScope)
	return nil
}

// Mint issues a carte signed with priv. A missing salt is generated.
func Mint(codec *fingerprint.Codec, priv ed25519.PrivateKey, c Carte) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", errors.New("carte: invalid private key")
	}
	if codec == nil {
		codec = fingerprint.NewCodec(nil)
	}
	salt := c.Salt
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("carte: salt: %w", err)
		}
	}

	var addr []byte
	if c.Address != nil {
		if v4 := c.Address.To4(); v4 != nil {
			addr = v4
		} else {
			addr = c.Address.To16()
		}
	}
	fp := &fingerprint.CarteV1{
		Type:        fingerprint.TypeCarte,
		Version:     1,
		Address:     addr,
		Beginning:   c.Beginning.Unix(),
		Deadline:    c.Deadline.Unix(),
		NodeName:    c.NodeName,
		OwnerName:   c.OwnerName,
		ClientScope: uint64(c.ClientScope),
		AdminScope:  uint64(c.AdminScope),
		Salt:        salt,
	}
	payload, err := codec.Encode(fp)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, payload)
	return base64.RawURLEncoding.EncodeToString(append(payload, sig...)), nil
}
