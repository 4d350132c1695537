package proxy

import (
	"log/slog"
	"net/http"
)

// Gateway is the root data-plane handler. Every inbound request passes the
// classifier exactly once: local-surface requests terminate at the identity
// handler and never touch the engine; everything else is forwarded upstream.
type Gateway struct {
	classifier Classifier
	local      http.Handler
	engine     *Engine
	logger     *slog.Logger
}

// NewGateway wires the classifier, the local identity surface, and the proxy
// engine into one http.Handler.
func NewGateway(classifier Classifier, local http.Handler, engine *Engine, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		classifier: classifier,
		local:      local,
		engine:     engine,
		logger:     logger,
	}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := g.classifier.Classify(r.URL.Path)

	g.logger.Debug("classified request",
		"method", r.Method,
		"path", r.URL.Path,
		"route", route.String(),
	)

	if route == RouteLocal {
		g.local.ServeHTTP(w, r)
		return
	}
	g.engine.ServeHTTP(w, r)
}
