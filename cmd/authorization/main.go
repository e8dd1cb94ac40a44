package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/service"
	"github.com/d4xyjen/jedi/service/authorization"
)

func main() {
	configPath := flag.String("config", "./configs/"+authorization.Name, "directory holding the yaml configuration")
	env := flag.String("env", "development", "environment sub directory searched first")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cm := config.GetInstance()
	cm.SetBasePath(*configPath)
	cm.SetEnvironment(*env)

	if err := service.Run(ctx, authorization.Name, cm, authorization.Setup); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", authorization.Name, err)
		os.Exit(1)
	}
}
