package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/xKoRx/hedge/internal"
)

func main() {
	// Variables locales (.env) complementan lo que no viene de ETCD.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	op, err := internal.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inicializando operador: %v\n", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		if err := op.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "error cerrando operador: %v\n", err)
		}
	}()

	if err := op.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error ejecutando operador: %v\n", err)
		_ = op.Shutdown()
		os.Exit(1)
	}
}
