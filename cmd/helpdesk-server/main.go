package main

import (
	"fmt"
	"log"
	"net/http"

	"helpdesk-chat-client/internal/config"
	"helpdesk-chat-client/internal/server"
)

func main() {
	cfg := config.Load()
	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	addr := ":" + cfg.Port
	fmt.Printf("helpdesk chat server listening on %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, s.Router()))
}
