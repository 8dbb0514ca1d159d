package main

import (
	"flag"
	"log"

	"kestrel-irp/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()
	if err := appbootstrap.Run(*configPath); err != nil {
		log.Fatalf("kestrel: %v", err)
	}
}
