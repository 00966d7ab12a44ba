package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomscu/dicom"
	"github.com/caio-sobreiro/dicomscu/dimse"
	"github.com/caio-sobreiro/dicomscu/scu"
)

// runStore sends every file with C-STORE, fanning out over up to
// config.Parallel associations, one per batch of files.
func runStore(ctx context.Context, config *Config, logger *slog.Logger, paths []string) error {
	infos := make([]*dicom.FileInfo, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		info, err := dicom.ReadFileInfo(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		logger.Debug("Queued file for store",
			"file", path,
			"sop_class", info.SOPClassUID,
			"sop_instance", info.SOPInstanceUID,
			"transfer_syntax", info.TransferSyntaxUID)
		infos = append(infos, info)
	}

	bar := progressbar.Default(int64(len(infos)), "storing")

	var mu sync.Mutex
	var failures []string

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(config.Parallel)

	for _, batch := range splitBatches(infos, config.Parallel) {
		batch := batch
		group.Go(func() error {
			client := scu.NewClient(clientConfig(config, logger), &logHandler{logger: logger})
			for _, info := range batch {
				err := client.AddRequest(&dimse.StoreRequest{
					SOPClassUID:    info.SOPClassUID,
					SOPInstanceUID: info.SOPInstanceUID,
					TransferSyntax: info.TransferSyntaxUID,
					Data:           info.Dataset,
					OnResponse: func(rsp dimse.StoreResponse) {
						bar.Add(1)
						if rsp.Status != dimse.StatusSuccess {
							mu.Lock()
							failures = append(failures, fmt.Sprintf("%s: status %s",
								rsp.SOPInstanceUID, statusString(rsp.Status)))
							mu.Unlock()
						}
					},
				})
				if err != nil {
					return err
				}
			}
			return client.Send(ctx, config.address())
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	if len(failures) > 0 {
		for _, failure := range failures {
			logger.Error("C-STORE rejected by peer", "detail", failure)
		}
		return fmt.Errorf("%d of %d instances rejected", len(failures), len(infos))
	}

	fmt.Printf("Stored %d instance(s) to %s (%s)\n", len(infos), config.address(), config.CalledAETitle)
	return nil
}

// splitBatches distributes items round-robin into at most n batches.
func splitBatches[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}
	batches := make([][]T, n)
	for i, item := range items {
		batches[i%n] = append(batches[i%n], item)
	}
	return batches
}
