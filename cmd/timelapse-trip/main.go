package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/capsule-io/timelapse-trip/cmd/timelapse-trip/app"
)

func main() {
	app.NewApp().Run()
}
