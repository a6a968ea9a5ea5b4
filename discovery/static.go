package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StaticOracle serves fixed mappings, for development against a known page
// layout and for tests. It records every request it receives.
type StaticOracle struct {
	mu       sync.Mutex
	mappings map[string]map[string]string
	requests []Request

	// Err, when set, is returned by every Discover call.
	Err error
	// OnDiscover, when set, replaces the static answer.
	OnDiscover func(req Request) (map[string]string, error)
}

// NewStaticOracle creates an oracle over mappings (context -> element -> locator).
func NewStaticOracle(mappings map[string]map[string]string) *StaticOracle {
	if mappings == nil {
		mappings = make(map[string]map[string]string)
	}
	return &StaticOracle{mappings: mappings}
}

// LoadStaticOracle reads mappings from a JSON file shaped like the knowledge file.
func LoadStaticOracle(path string) (*StaticOracle, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read static selectors: %w", err)
	}
	var mappings map[string]map[string]string
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("decode static selectors %s: %w", path, err)
	}
	return NewStaticOracle(mappings), nil
}

// Set replaces the mapping for one context.
func (s *StaticOracle) Set(contextName string, mapping map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[contextName] = mapping
}

// Discover returns a copy of the configured mapping for req.Context.
func (s *StaticOracle) Discover(ctx context.Context, req Request) (map[string]string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	hook := s.OnDiscover
	errOut := s.Err
	src := s.mappings[req.Context]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hook != nil {
		return hook(req)
	}
	if errOut != nil {
		return nil, errOut
	}
	return out, nil
}

// Requests returns the requests received so far.
func (s *StaticOracle) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns how many times Discover ran.
func (s *StaticOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
