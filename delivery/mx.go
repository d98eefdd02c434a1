package delivery

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
)

var errNoMX = errors.New("no MX records")

var mxLookup = net.LookupMX

// ResolveMX returns the MX hosts of domain ordered by preference, shuffling
// hosts of equal preference.
func ResolveMX(domain string) ([]*net.MX, error) {
	records, err := mxLookup(domain)
	if err != nil {
		return nil, fmt.Errorf("MX lookup failed for %s: %w", domain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("MX lookup failed for %s: %w", domain, errNoMX)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})
	for i := 0; i < len(records); {
		j := i + 1
		for j < len(records) && records[j].Pref == records[i].Pref {
			j++
		}
		rand.Shuffle(j-i, func(a, b int) {
			records[i+a], records[i+b] = records[i+b], records[i+a]
		})
		i = j
	}

	for _, mx := range records {
		mx.Host = strings.TrimSuffix(mx.Host, ".")
	}
	return records, nil
}
