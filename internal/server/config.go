package server

import (
	"github.com/ecofleet-io/ecofleet/internal/server/http"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

type Config struct {
	HttpOptions *options.HttpOptions

	Reports      http.Reports
	Queue        http.WriteQueue
	Connectivity http.Connectivity
}
