// Package discovery finds a Home Assistant instance on the local network
// over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_home-assistant._tcp"
	Domain      = "local."

	DefaultTimeout = 5 * time.Second
)

var ErrNotFound = errors.New("no home assistant instance found")

// Instance is one advertised Home Assistant server.
type Instance struct {
	Name     string
	Location string
	Version  string
	URL      string
}

// Discover browses until the first usable instance answers or timeout
// expires.
func Discover(ctx context.Context, timeout time.Duration) (Instance, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed); err != nil {
			log.Warn().Err(err).Msg("mDNS browse failed")
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Instance{}, ErrNotFound
			}
			inst, err := FromEntry(entry)
			if err != nil {
				log.Debug().Err(err).Str("instance", entry.Instance).Msg("Skipping mDNS entry")
				continue
			}
			log.Info().
				Str("name", inst.Name).
				Str("url", inst.URL).
				Str("version", inst.Version).
				Msg("Discovered Home Assistant")
			return inst, nil
		case <-removed:
		case <-ctx.Done():
			return Instance{}, fmt.Errorf("%w within %v", ErrNotFound, timeout)
		}
	}
}

// FromEntry converts an mDNS answer. The advertised internal_url wins over
// base_url; without either the URL is built from the first address.
func FromEntry(entry *zeroconf.ServiceEntry) (Instance, error) {
	txt := parseTXT(entry.Text)
	inst := Instance{
		Name:     entry.Instance,
		Location: txt["location_name"],
		Version:  txt["version"],
	}

	for _, key := range []string{"internal_url", "base_url"} {
		if u := strings.TrimRight(txt[key], "/"); u != "" {
			inst.URL = u
			return inst, nil
		}
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Instance{}, errors.New("entry has no address")
	}
	if entry.Port == 0 {
		return Instance{}, errors.New("entry has no port")
	}

	inst.URL = "http://" + net.JoinHostPort(host, strconv.Itoa(entry.Port))
	return inst, nil
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, rec := range records {
		k, v, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}
