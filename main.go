package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"rewarder/cmd"

	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[1:]
	command := ""
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "migrate":
		err = cmd.Migrate(args[1:])
	case "fund":
		err = cmd.Fund(ctx, args[1:])
	case "campaign":
		err = cmd.CreateCampaign(ctx, args[1:])
	case "sweep":
		err = cmd.Sweep(ctx)
	case "", "serve":
		err = cmd.Run(ctx)
	default:
		log.Fatalf("unknown command %q (want serve, migrate, fund, campaign or sweep)", command)
	}

	if err != nil {
		log.Fatal("Application error: ", err)
	}
}
