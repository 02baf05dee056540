package downloader

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"imgload/pkg/metastore"
)

// Mutable
type manager struct {
	handlers map[string]SchemeHandler
}

// NewFactory returns a Factory dispatching to the given handlers.
func NewFactory(handlers ...SchemeHandler) *manager {
	m := &manager{
		handlers: make(map[string]SchemeHandler),
	}
	for _, h := range handlers {
		m.Register(h)
	}
	return m
}

// NewDefaultFactory supports http and https, resuming through metas.
func NewDefaultFactory(client *http.Client, metas metastore.Store) Factory {
	return NewFactory(NewHTTPHandler(client, metas))
}

func (m *manager) Register(h SchemeHandler) {
	for _, scheme := range h.Schemes() {
		m.handlers[scheme] = h
	}
}

func (m *manager) New(req Request) (Downloader, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid uri: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	handler, ok := m.handlers[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme: %s", scheme)
	}
	if req.Listener == nil {
		req.Listener = NopListener{}
	}
	return handler.New(req), nil
}
