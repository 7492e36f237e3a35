// Package netclass partitions resolved addresses into public and internal
// space so the scanner never dials into private networks.
package netclass

import "strings"

// Flags set on a classification when any address matches.
const (
	FlagLocalhost  = "localhost"
	FlagNullRoute  = "null_route"
	FlagPrivate10  = "private_10"
	FlagPrivate172 = "private_172"
	FlagPrivate192 = "private_192"
)

// Classification is a disjoint partition of the input addresses:
// Public ∪ Internal equals the input set, and Internal covers both private
// ranges and bogus addresses (loopback, null route, broadcast).
type Classification struct {
	Public   []string
	Internal []string
	Flags    []string
}

var bogus = map[string]struct{}{
	"127.0.0.1":       {},
	"0.0.0.0":         {},
	"255.255.255.255": {},
	"::1":             {},
	"localhost":       {},
}

// Classification is defined on the dotted string form, by contract: exact
// match for bogus addresses, prefix match for RFC 1918 space.
func isPrivate(ip string) bool {
	if strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "192.168.") {
		return true
	}
	for octet := 16; octet <= 31; octet++ {
		if strings.HasPrefix(ip, "172."+itoa(octet)+".") {
			return true
		}
	}
	return false
}

func isBogus(ip string) bool {
	_, ok := bogus[ip]
	return ok
}

// Classify splits ips into public and internal sets and derives flags.
// Input order is preserved within each set.
func Classify(ips []string) Classification {
	c := Classification{
		Public:   []string{},
		Internal: []string{},
	}

	flagged := map[string]struct{}{}
	flag := func(f string) {
		if _, dup := flagged[f]; dup {
			return
		}
		flagged[f] = struct{}{}
		c.Flags = append(c.Flags, f)
	}

	for _, ip := range ips {
		switch {
		case isBogus(ip), isPrivate(ip):
			c.Internal = append(c.Internal, ip)
		default:
			c.Public = append(c.Public, ip)
		}

		switch {
		case ip == "127.0.0.1":
			flag(FlagLocalhost)
		case ip == "0.0.0.0":
			flag(FlagNullRoute)
		case strings.HasPrefix(ip, "10."):
			flag(FlagPrivate10)
		case strings.HasPrefix(ip, "192.168."):
			flag(FlagPrivate192)
		default:
			if isPrivate(ip) {
				flag(FlagPrivate172)
			}
		}
	}
	return c
}

// itoa avoids strconv for the two-digit range used above.
func itoa(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
