// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery finds Tempest telemetry servers via mDNS (multicast DNS).
//
// Servers advertise the service type "_tempestd._tcp". The TXT record may carry:
//   - id: stable server identifier
//   - scheme: "http" (default) or "https"
//   - version: server version string
//
// Discovery is only a fallback: an explicit server override or a persisted
// server origin always wins.
//
// # Thread Safety
//
// All scanner operations are thread-safe and use read-write locks to protect
// the internal server map.
//
// # Example Usage
//
//	scanner := discovery.NewScanner("_tempestd._tcp", "local.")
//
//	origin, err := scanner.Locate(ctx, 3*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("using", origin)
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/soothill/tempest-dashboard/pkg/logger"
)

// ErrNoServers is returned by Locate when the scan found nothing.
var ErrNoServers = errors.New("no telemetry servers found")

// Server represents a discovered telemetry server
type Server struct {
	Name      string
	Address   net.IP
	Port      int
	TXTRecord map[string]string
	Hostname  string
}

// ID returns a unique identifier for the server
func (s *Server) ID() string {
	if id := s.TXTRecord["id"]; id != "" {
		return id
	}
	return s.hostPort()
}

// Origin returns scheme://host:port for the server.
func (s *Server) Origin() string {
	scheme := strings.ToLower(s.TXTRecord["scheme"])
	if scheme != "https" {
		scheme = "http"
	}
	return scheme + "://" + s.hostPort()
}

// Version returns the advertised server version.
func (s *Server) Version() string {
	return s.TXTRecord["version"]
}

func (s *Server) hostPort() string {
	host := ""
	if s.Address != nil {
		host = s.Address.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// Scanner handles telemetry server discovery via mDNS
type Scanner struct {
	serviceType string
	domain      string
	servers     map[string]*Server
	mu          sync.RWMutex // Protects servers map
}

// NewScanner creates a new server scanner
func NewScanner(serviceType, domain string) *Scanner {
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		servers:     make(map[string]*Server),
	}
}

// Discover performs a single discovery scan.
//
// zeroconf's resolver produces entries on a buffered channel until the scan
// context expires; a consumer goroutine parses them into the scanner-wide map
// and the per-scan result slice. Discover returns once the consumer has
// drained the channel.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]*Server, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	// Buffered channel to prevent blocking zeroconf resolver
	entries := make(chan *zeroconf.ServiceEntry, 10)
	found := make([]*Server, 0)
	var mu sync.Mutex // Protects found
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			server := parseServiceEntry(entry)
			if server == nil {
				continue
			}
			id := server.ID()

			s.mu.Lock()
			s.servers[id] = server
			s.mu.Unlock()

			mu.Lock()
			found = append(found, server)
			mu.Unlock()

			logger.Info().
				Str("server_id", id).
				Str("server_name", server.Name).
				Str("origin", server.Origin()).
				Str("version", server.Version()).
				Msg("Discovered telemetry server")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = resolver.Browse(discoverCtx, s.serviceType, s.domain, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-discoverCtx.Done()
	wg.Wait()

	return found, nil
}

// Locate runs a scan and returns the origin of the preferred server.
func (s *Scanner) Locate(ctx context.Context, timeout time.Duration) (string, error) {
	servers, err := s.Discover(ctx, timeout)
	if err != nil {
		return "", err
	}
	best := Preferred(servers)
	if best == nil {
		return "", ErrNoServers
	}
	return best.Origin(), nil
}

// Preferred picks a deterministic server from a scan: lowest name, then ID.
func Preferred(servers []*Server) *Server {
	if len(servers) == 0 {
		return nil
	}
	sorted := make([]*Server, len(servers))
	copy(sorted, servers)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	return sorted[0]
}

// parseServiceEntry converts a zeroconf service entry to a Server
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Server {
	if entry == nil {
		return nil
	}
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}

	// Prefer IPv4, fallback to IPv6
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	return &Server{
		Name:      entry.Instance,
		Address:   addr,
		Port:      entry.Port,
		TXTRecord: parseTXT(entry.Text),
		Hostname:  entry.HostName,
	}
}

func parseTXT(text []string) map[string]string {
	txt := make(map[string]string, len(text))
	for _, t := range text {
		parts := strings.SplitN(t, "=", 2)
		if len(parts) == 2 {
			txt[strings.ToLower(parts[0])] = parts[1]
		}
	}
	return txt
}

// Servers returns all discovered servers
func (s *Scanner) Servers() []*Server {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]*Server, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, server)
	}
	return servers
}

// ServerByID returns a server by its ID, or nil if not found
func (s *Scanner) ServerByID(id string) *Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[id]
}
