package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/ecofleet-io/ecofleet/cmd/eco-sync-agent/app"
)

func main() {
	app.NewApp().Run()
}
