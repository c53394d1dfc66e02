// Package discovery advertises the HTTP API over mDNS and browses for
// other transcription servers on the local network.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/loqalabs/open-transcribe/internal/config"
)

type Advertiser struct {
	server *zeroconf.Server
	log    *slog.Logger
}

// Advertise registers the instance on the configured service type. It
// returns nil without error when discovery is disabled.
func Advertise(cfg config.DiscoveryConfig, fallbackInstance string, port int, fields map[string]string, log *slog.Logger) (*Advertiser, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	instance := strings.TrimSpace(cfg.Instance)
	if instance == "" {
		instance = fallbackInstance
	}
	server, err := zeroconf.Register(instance, cfg.Service, cfg.Domain, port, Records(fields), nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	log = log.With(slog.String("component", "discovery"))
	log.Info("advertising over mdns",
		slog.String("instance", instance),
		slog.String("service", cfg.Service),
		slog.String("domain", cfg.Domain),
		slog.Int("port", port),
	)
	return &Advertiser{server: server, log: log}, nil
}

func (a *Advertiser) Shutdown() {
	if a == nil {
		return
	}
	a.server.Shutdown()
	a.log.Info("mdns advertisement withdrawn")
}

// Records renders TXT fields as sorted key=value strings. Empty values are
// dropped.
func Records(fields map[string]string) []string {
	out := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseRecords is the inverse of Records. Entries without '=' are kept as
// keys with an empty value.
func ParseRecords(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, entry := range txt {
		k, v, _ := strings.Cut(entry, "=")
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Service is one server found while browsing.
type Service struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Addrs    []string          `json:"addrs"`
	Fields   map[string]string `json:"fields"`
}

// URL returns the base URL of the service, preferring an IPv4 address.
func (s Service) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addrs) > 0 {
		host = s.Addrs[0]
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprint(s.Port))
}

func fromEntry(entry *zeroconf.ServiceEntry) Service {
	svc := Service{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Fields:   ParseRecords(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		svc.Addrs = append(svc.Addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		svc.Addrs = append(svc.Addrs, ip.String())
	}
	return svc
}

// Browse collects services until wait elapses or ctx is cancelled. Results
// are sorted by instance name.
func Browse(ctx context.Context, service, domain string, wait time.Duration) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		mu    sync.Mutex
		found = map[string]Service{}
		done  = make(chan struct{})
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(done)
		for entry := range entries {
			svc := fromEntry(entry)
			mu.Lock()
			found[svc.Instance] = svc
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", service, err)
	}
	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Service, 0, len(found))
	for _, svc := range found {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}
