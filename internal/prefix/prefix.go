// Package prefix models the three-octet IPv4 blocks whose address records
// are kept at a target count.
package prefix

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// Prefix is a /24 IPv4 block written as its first three octets, e.g. "162.159.44".
type Prefix struct {
	raw   string
	block netip.Prefix
}

// Parse validates s as exactly three dotted decimal octets.
func Parse(s string) (Prefix, error) {
	if strings.Count(s, ".") != 2 {
		return Prefix{}, fmt.Errorf("prefix %q must have exactly three octets", s)
	}
	block, err := netip.ParsePrefix(s + ".0/24")
	if err != nil {
		return Prefix{}, fmt.Errorf("parse prefix %q: %w", s, err)
	}
	// netip rejects leading zeros, so raw is already canonical
	return Prefix{raw: s, block: block}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Prefix {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseList parses every entry, rejecting duplicates. Order is preserved.
func ParseList(list []string) ([]Prefix, error) {
	seen := make(map[string]bool, len(list))
	out := make([]Prefix, 0, len(list))
	for _, s := range list {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		if seen[p.raw] {
			return nil, fmt.Errorf("duplicate prefix %q", s)
		}
		seen[p.raw] = true
		out = append(out, p)
	}
	return out, nil
}

func (p Prefix) String() string {
	return p.raw
}

// Block returns the /24 network covering the prefix.
func (p Prefix) Block() netip.Prefix {
	return p.block
}

// Matches reports whether content, the data of an address record, starts
// with "<prefix>.".
func (p Prefix) Matches(content string) bool {
	return strings.HasPrefix(content, p.raw+".")
}

// Hosts returns the first and last usable host addresses, skipping the
// network and broadcast addresses.
func (p Prefix) Hosts() (first, last netip.Addr) {
	return p.block.Addr().Next(), netipx.PrefixLastIP(p.block).Prev()
}

// Intn returns a uniform integer in [0, n). It must be safe for concurrent use.
type Intn func(n int) int

// Random returns an address in the prefix whose last octet is uniform in
// [1, 254]. Calls are independent; collisions are possible.
func (p Prefix) Random(intn Intn) netip.Addr {
	if intn == nil {
		intn = rand.IntN
	}
	first, last := p.Hosts()
	span := int(last.As4()[3]) - int(first.As4()[3]) + 1
	b := first.As4()
	b[3] += byte(intn(span))
	return netip.AddrFrom4(b)
}
