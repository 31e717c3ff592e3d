package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-echo/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Checker
	Readiness   health.Checker

	UseRecoverMW bool
	// OnPanic runs after a recovered panic is logged (panics counter).
	OnPanic func()
}
