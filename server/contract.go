// SPDX-License-Identifier: ice License 1.0

package server

import (
	"net/http"
	stdlibtime "time"

	"github.com/gin-gonic/gin"

	"github.com/ice-blockchain/devbridge/bridge"
	"github.com/ice-blockchain/devbridge/document"
	"github.com/ice-blockchain/devbridge/hmr"
)

type (
	Router = gin.Engine
	Config struct {
		Host            string              `yaml:"host"`
		Port            uint16              `yaml:"port"`
		MaxConnections  int                 `yaml:"maxConnections"`
		ShutdownTimeout stdlibtime.Duration `yaml:"shutdownTimeout"`
		MetricsInterval stdlibtime.Duration `yaml:"metricsInterval"`
	}
	Server struct {
		router       *Router
		server       *http.Server
		bridge       *bridge.Bridge
		hub          *hmr.Hub
		document     *document.Template
		cfg          *Config
		documentPath string
	}
)

const (
	defaultShutdownTimeout   = 5 * stdlibtime.Second
	defaultReadHeaderTimeout = 10 * stdlibtime.Second
)
