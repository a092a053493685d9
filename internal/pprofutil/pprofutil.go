// Package pprofutil serves net/http/pprof when ECCHAT_PPROF=1.
package pprofutil

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAddr = "127.0.0.1:6060"

	EnvEnable      = "ECCHAT_PPROF"
	EnvAddr        = "ECCHAT_PPROF_ADDR"
	EnvAllowPublic = "ECCHAT_PPROF_ALLOW_PUBLIC"
)

var (
	startOnce sync.Once
	startAddr string
	startErr  error
)

// StartFromEnv starts the profiler at most once per process and returns the
// bound address, or "" when profiling is off.
func StartFromEnv(log *zap.Logger) (string, error) {
	startOnce.Do(func() {
		startAddr, startErr = start(os.Getenv, log)
	})
	return startAddr, startErr
}

func start(getenv func(string) string, log *zap.Logger) (string, error) {
	if strings.TrimSpace(getenv(EnvEnable)) != "1" {
		return "", nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	addr := strings.TrimSpace(getenv(EnvAddr))
	if addr == "" {
		addr = defaultAddr
	}
	allowPublic := strings.TrimSpace(getenv(EnvAllowPublic)) == "1"
	if !allowPublic && !isLoopbackBind(addr) {
		return "", fmt.Errorf("%s must be loopback unless %s=1: %s", EnvAddr, EnvAllowPublic, addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("pprof listen failed: %w", err)
	}
	actual := ln.Addr().String()
	log.Info("pprof enabled", zap.String("url", "http://"+actual+"/debug/pprof/"))
	srv := &http.Server{
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn("pprof server stopped", zap.Error(err))
		}
	}()
	return actual, nil
}

func isLoopbackBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
