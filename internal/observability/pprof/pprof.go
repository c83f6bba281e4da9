// Package pprof exposes runtime profiles on the API router.
package pprof

import (
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Config controls profiling. Profiles are served behind the API auth.
type Config struct {
	Enabled bool

	// 0 disables the profile; negative keeps the runtime default.
	MutexProfileFraction int
	BlockProfileRate     int
	// 0 keeps the runtime default.
	MemProfileRate int
}

// ApplyRates sets runtime sampling rates. Safe to call on every reload.
func ApplyRates(cfg Config) {
	if !cfg.Enabled {
		return
	}
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// Mount registers /debug/pprof/* on g. Nothing is mounted when disabled.
func Mount(g gin.IRoutes, cfg Config) {
	if !cfg.Enabled {
		return
	}
	g.GET("/debug/pprof/*name", serve)
	g.POST("/debug/pprof/*name", serve)
}

func serve(c *gin.Context) {
	w, r := c.Writer, c.Request
	switch name := strings.Trim(c.Param("name"), "/"); name {
	case "":
		hpprof.Index(w, r)
	case "cmdline":
		hpprof.Cmdline(w, r)
	case "profile":
		hpprof.Profile(w, r)
	case "symbol":
		hpprof.Symbol(w, r)
	case "trace":
		hpprof.Trace(w, r)
	default:
		// unknown names get a 404 from the handler
		hpprof.Handler(name).ServeHTTP(w, r)
	}
}
