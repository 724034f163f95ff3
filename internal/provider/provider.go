package provider

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/libdns/libdns"
)

// Provider reads and writes the address records behind a single name.
type Provider interface {
	GetRecords(ctx context.Context) ([]Record, error)
	CreateRecord(ctx context.Context, record Record) error
	UpdateRecord(ctx context.Context, record Record) error
	DeleteRecord(ctx context.Context, record Record) error
}

type Record struct {
	ID   string
	Name string
	Type string
	Data string
	TTL  time.Duration
}

// NewAddress builds an address record for ip. The ID is left empty.
func NewAddress(name string, ip netip.Addr, ttl time.Duration) Record {
	return FromLibdns(libdns.Address{Name: name, IP: ip, TTL: ttl}, "")
}

func FromLibdns(r libdns.Record, id string) Record {
	rr := r.RR()
	return Record{
		ID:   id,
		Name: rr.Name,
		Type: rr.Type,
		Data: rr.Data,
		TTL:  rr.TTL,
	}
}

// ToLibdns converts an address record to its typed form. Only A and AAAA
// records are managed, anything else is an error.
func ToLibdns(r Record) (libdns.Address, error) {
	switch r.Type {
	case "A", "AAAA":
		addr, err := netip.ParseAddr(r.Data)
		if err != nil {
			return libdns.Address{}, fmt.Errorf("fail parse ip addr %s, err=%w", r.Data, err)
		}
		if (r.Type == "A") != addr.Is4() {
			return libdns.Address{}, fmt.Errorf("record type %s does not match address %s", r.Type, r.Data)
		}
		return libdns.Address{
			Name: r.Name,
			IP:   addr,
			TTL:  r.TTL,
		}, nil
	default:
		return libdns.Address{}, fmt.Errorf("unsupported record type %s", r.Type)
	}
}
