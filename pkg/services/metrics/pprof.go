package metrics

import (
	"net/http"
	"net/http/pprof"

	"github.com/nspcc-dev/chainmux/pkg/config"
	"go.uber.org/zap"
)

// pprofPrefix is the path all profiling endpoints are served under.
const pprofPrefix = "/debug/pprof/"

// pprofHandlers maps endpoint names (relative to pprofPrefix) to handlers,
// named runtime profiles (heap, goroutine, etc.) are served by the index.
var pprofHandlers = map[string]http.HandlerFunc{
	"":        pprof.Index,
	"cmdline": pprof.Cmdline,
	"profile": pprof.Profile,
	"symbol":  pprof.Symbol,
	"trace":   pprof.Trace,
}

// NewPprofService creates a service exposing runtime profiling data of the
// process. It returns nil if no logger is given.
func NewPprofService(cfg config.BasicService, log *zap.Logger) *Service {
	if log == nil {
		return nil
	}
	mux := http.NewServeMux()
	for name, h := range pprofHandlers {
		mux.HandleFunc(pprofPrefix+name, h)
	}
	return NewService("Pprof", newServers(cfg.GetAddresses(), mux), cfg, log)
}
