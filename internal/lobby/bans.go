package lobby

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/sacredlobby/sacredlobby/internal/config"
)

// BanKind says which connections from an address are refused.
type BanKind int

const (
	BanNone BanKind = iota
	// BanFull refuses the socket before any byte is exchanged.
	BanFull
	// BanClientOnly refuses user logins.
	BanClientOnly
	// BanServerOnly refuses game server logins.
	BanServerOnly
)

func (k BanKind) String() string {
	switch k {
	case BanNone:
		return "none"
	case BanFull:
		return "full"
	case BanClientOnly:
		return "client"
	case BanServerOnly:
		return "server"
	default:
		return fmt.Sprintf("ban(%d)", int(k))
	}
}

// ParseBanKind parses the configuration spelling of a ban kind.
func ParseBanKind(s string) (BanKind, error) {
	switch s {
	case "full":
		return BanFull, nil
	case "client":
		return BanClientOnly, nil
	case "server":
		return BanServerOnly, nil
	}
	return BanNone, fmt.Errorf("unknown ban kind %q", s)
}

// BanList is the set of banned addresses.
type BanList struct {
	mu   sync.RWMutex
	bans map[string]BanKind
}

// NewBanList seeds a ban list from configuration.
func NewBanList(bans []config.Ban) (*BanList, error) {
	b := &BanList{bans: make(map[string]BanKind)}
	for _, ban := range bans {
		ip := net.ParseIP(ban.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid ban address %q", ban.IP)
		}
		kind, err := ParseBanKind(ban.Kind)
		if err != nil {
			return nil, err
		}
		b.Add(ip, kind)
	}
	return b, nil
}

func banKey(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// Add bans ip, replacing any existing ban on it.
func (b *BanList) Add(ip net.IP, kind BanKind) {
	if ip == nil || kind == BanNone {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bans[banKey(ip)] = kind
}

// Remove lifts the ban on ip and reports whether there was one.
func (b *BanList) Remove(ip net.IP) bool {
	if ip == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := banKey(ip)
	_, ok := b.bans[key]
	delete(b.bans, key)
	return ok
}

// Check returns the ban on ip, or BanNone.
func (b *BanList) Check(ip net.IP) BanKind {
	if ip == nil {
		return BanNone
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bans[banKey(ip)]
}

// List returns the bans in configuration form, sorted by address.
func (b *BanList) List() []config.Ban {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]config.Ban, 0, len(b.bans))
	for ip, kind := range b.bans {
		out = append(out, config.Ban{IP: ip, Kind: kind.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}
