package cluster

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// ----------------------------------------------------------------------------
// Static Lookup
// ----------------------------------------------------------------------------

// StaticLookup returns a fixed member list. This is the lookup behind the
// --peers flag: the cluster composition is known at start time and never
// changes.
type StaticLookup struct {
	members []Member
}

// NewStaticLookup creates a lookup from a list of peer addresses. The address
// doubles as the member id.
func NewStaticLookup(addrs []string) *StaticLookup {
	members := make([]Member, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		members = append(members, Member{ID: addr, Address: addr})
	}
	return &StaticLookup{members: members}
}

func (l *StaticLookup) Name() string { return "static" }

func (l *StaticLookup) Resolve(_ context.Context) ([]Member, error) {
	out := make([]Member, len(l.members))
	copy(out, l.members)
	return out, nil
}

func (l *StaticLookup) Close() error { return nil }

// ----------------------------------------------------------------------------
// File Lookup
// ----------------------------------------------------------------------------

// FileLookup reads the member list from a config file (any format viper
// understands, selected by extension). The file must contain a `members` key
// holding a list of peer addresses:
//
//	members:
//	  - "10.0.0.1:8080"
//	  - "10.0.0.2:8080"
//
// The file is re-read only when its mtime changes, so operators can edit the
// member list of a running cluster without a restart.
type FileLookup struct {
	path string

	mu      sync.Mutex
	v       *viper.Viper
	modTime time.Time
	cached  []Member
}

// NewFileLookup creates a lookup backed by the given file. The file is not
// read until the first Resolve call.
func NewFileLookup(path string) *FileLookup {
	v := viper.New()
	v.SetConfigFile(path)
	return &FileLookup{path: path, v: v}
}

func (l *FileLookup) Name() string { return "file" }

func (l *FileLookup) Resolve(_ context.Context) ([]Member, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("stat members file %s: %w", l.path, err)
	}

	if !info.ModTime().Equal(l.modTime) {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read members file %s: %w", l.path, err)
		}
		l.modTime = info.ModTime()

		addrs := l.v.GetStringSlice("members")
		members := make([]Member, 0, len(addrs))
		for _, addr := range addrs {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			members = append(members, Member{ID: addr, Address: addr})
		}
		l.cached = members
	}

	out := make([]Member, len(l.cached))
	copy(out, l.cached)
	return out, nil
}

func (l *FileLookup) Close() error { return nil }

// ----------------------------------------------------------------------------
// Address Server Lookup
// ----------------------------------------------------------------------------

// AddrSrvLookup fetches the member list from an http endpoint that returns
// one peer address per line. Blank lines and lines starting with '#' are
// ignored. This matches the plain-text address-server convention, so any
// static file server can act as the cluster directory.
type AddrSrvLookup struct {
	url    string
	client *http.Client
}

// NewAddrSrvLookup creates a lookup polling the given url.
func NewAddrSrvLookup(url string) *AddrSrvLookup {
	return &AddrSrvLookup{
		url:    url,
		client: &http.Client{},
	}
}

func (l *AddrSrvLookup) Name() string { return "addrsrv" }

func (l *AddrSrvLookup) Resolve(ctx context.Context) ([]Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build address server request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query address server %s: %w", l.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("address server %s returned status %d", l.url, resp.StatusCode)
	}

	var members []Member
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		members = append(members, Member{ID: line, Address: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read address server response: %w", err)
	}

	return members, nil
}

func (l *AddrSrvLookup) Close() error {
	l.client.CloseIdleConnections()
	return nil
}
