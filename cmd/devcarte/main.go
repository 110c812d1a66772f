package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/auth/carte"
)

// Dev-only carte issuer.
//
// It mints a carte signed by a local Ed25519 key and prints the matching
// public key so the key can be registered with a development naming service.

func main() {
	var (
		seedHex     = pflag.String("seed", "", "hex Ed25519 seed (32 bytes); random when empty")
		owner       = pflag.String("owner", "dev_0", "owner (issuer) node name")
		node        = pflag.String("node", "search_0", "node name the carte is valid for")
		clientScope = pflag.StringSlice("client-scope", []string{"view-content"}, "client scopes (view-content, add-comment, react, search, subscribe, all)")
		adminScope  = pflag.StringSlice("admin-scope", nil, "admin scopes (verify, manage-index, view-stats, all)")
		ttl         = pflag.Duration("ttl", 30*time.Minute, "validity period")
		ip          = pflag.String("ip", "", "bind the carte to this client address")
	)
	pflag.Parse()

	priv, err := signingKey(*seedHex)
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}

	c := carte.Carte{
		Beginning: time.Now().UTC().Add(-time.Minute),
		Deadline:  time.Now().UTC().Add(*ttl),
		NodeName:  *node,
		OwnerName: *owner,
	}
	if *ip != "" {
		c.Address = net.ParseIP(*ip)
		if c.Address == nil {
			log.Fatalf("invalid --ip %q", *ip)
		}
	}
	if c.ClientScope, err = parseClientScopes(*clientScope); err != nil {
		log.Fatal(err)
	}
	if c.AdminScope, err = parseAdminScopes(*adminScope); err != nil {
		log.Fatal(err)
	}

	tok, err := carte.Mint(nil, priv, c)
	if err != nil {
		log.Fatalf("mint: %v", err)
	}

	fmt.Fprintf(os.Stderr, "public key (base64): %s\n", base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)))
	fmt.Fprintf(os.Stderr, "seed (hex): %s\n", hex.EncodeToString(priv.Seed()))
	fmt.Println(tok)
}

func signingKey(seedHex string) (ed25519.PrivateKey, error) {
	if seedHex == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

var clientScopes = map[string]domain.ClientScope{
	"view-content": domain.ClientScopeViewContent,
	"add-comment":  domain.ClientScopeAddComment,
	"react":        domain.ClientScopeReact,
	"search":       domain.ClientScopeSearch,
	"subscribe":    domain.ClientScopeSubscribe,
	"all":          domain.ClientScopeAll,
}

var adminScopes = map[string]domain.AdminScope{
	"verify":       domain.AdminScopeVerify,
	"manage-index": domain.AdminScopeManageIndex,
	"view-stats":   domain.AdminScopeViewStats,
	"all":          domain.AdminScopeAll,
}

func parseClientScopes(names []string) (domain.ClientScope, error) {
	var s domain.ClientScope
	for _, n := range names {
		bit, ok := clientScopes[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown client scope %q", n)
		}
		s |= bit
	}
	return s, nil
}

func parseAdminScopes(names []string) (domain.AdminScope, error) {
	var s domain.AdminScope
	for _, n := range names {
		bit, ok := adminScopes[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown admin scope %q", n)
		}
		s |= bit
	}
	return s, nil
}
