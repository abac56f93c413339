// Package clientapi fetches the list of active clients from the aggregator
// health endpoint. Endpoint, credentials and the test-client exclusion set
// are injected through configuration.
package clientapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 30 * time.Second

// Config holds the endpoint contract.
type Config struct {
	// URL of the client-list endpoint, expected to return a JSON array of
	// client identifiers.
	URL string
	// Auth is sent verbatim as the authorization header when non-empty.
	Auth string
	// Exclude lists client IDs (case-insensitive) to filter out, typically
	// test tenants.
	Exclude []string
	// Timeout for the request; zero means DefaultTimeout.
	Timeout time.Duration
}

// Fetcher retrieves and filters the client list.
type Fetcher struct {
	cfg     Config
	http    *http.Client
	exclude map[string]struct{}
	log     *zap.Logger
}

// New creates a Fetcher. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, c := range cfg.Exclude {
		exclude[strings.ToLower(c)] = struct{}{}
	}
	return &Fetcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		exclude: exclude,
		log:     log,
	}
}

// ActiveClients fetches the client list, uppercases the IDs and drops the
// excluded ones.
func (f *Fetcher) ActiveClients(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build client list request")
	}
	if f.cfg.Auth != "" {
		req.Header.Set("authorization", f.cfg.Auth)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch client list")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("client list endpoint returned %s", resp.Status)
	}

	var raw []any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode client list")
	}

	clients := make([]string, 0, len(raw))
	excluded := 0
	for _, c := range raw {
		id := strings.ToUpper(fmt.Sprint(c))
		if _, skip := f.exclude[strings.ToLower(id)]; skip {
			excluded++
			continue
		}
		clients = append(clients, id)
	}

	f.log.Info("fetched client list",
		zap.Int("clients", len(clients)),
		zap.Int("excluded", excluded))
	return clients, nil
}
