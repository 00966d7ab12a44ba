package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/dicomscu/dimse"
	"github.com/caio-sobreiro/dicomscu/scu"
)

func runEcho(ctx context.Context, config *Config, logger *slog.Logger) error {
	client := scu.NewClient(clientConfig(config, logger), &logHandler{logger: logger})

	var echoStatus uint16
	err := client.AddRequest(&dimse.EchoRequest{
		OnResponse: func(status uint16) { echoStatus = status },
	})
	if err != nil {
		return err
	}

	if err := client.Send(ctx, config.address()); err != nil {
		return err
	}

	logger.Info("C-ECHO complete", "status", statusString(echoStatus))
	if echoStatus != dimse.StatusSuccess {
		return fmt.Errorf("C-ECHO returned status %s", statusString(echoStatus))
	}
	fmt.Printf("C-ECHO to %s (%s): success\n", config.address(), config.CalledAETitle)
	return nil
}
