package main

import (
	"log"

	"supportchat/config"
	"supportchat/server"
	"supportchat/tools/ids"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ids.SetNodeID(1)

	srv := server.NewServer(cfg)
	if err := srv.Run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
