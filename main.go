package main

import (
	"context"
	"log"
	"os"

	"wgmgr/config"
	"wgmgr/server"
)

func main() {
	cfg := config.MustLoad(os.Args[1:])
	app := &server.App{}
	if err := app.Initialize(context.Background(), cfg); err != nil {
		log.Fatal(err)
	}
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
