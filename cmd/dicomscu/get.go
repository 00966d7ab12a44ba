package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/caio-sobreiro/dicomscu/dicom"
	"github.com/caio-sobreiro/dicomscu/dimse"
	"github.com/caio-sobreiro/dicomscu/scu"
	"github.com/caio-sobreiro/dicomscu/uid"
)

type retrieveQuery struct {
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
}

func (q retrieveQuery) level() string {
	switch {
	case q.SOPInstanceUID != "":
		return "IMAGE"
	case q.SeriesUID != "":
		return "SERIES"
	default:
		return "STUDY"
	}
}

// identifier builds the C-GET identifier dataset in Implicit VR Little
// Endian, the transfer syntax the retrieve context is proposed with.
func (q retrieveQuery) identifier() ([]byte, error) {
	dataset := dicom.NewDataset()
	dataset.AddElement(dicom.TagQueryLevel, dicom.VR_CS, q.level())
	if q.StudyUID != "" {
		dataset.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, q.StudyUID)
	}
	if q.SeriesUID != "" {
		dataset.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, q.SeriesUID)
	}
	if q.SOPInstanceUID != "" {
		dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, q.SOPInstanceUID)
	}
	return dicom.EncodeDatasetWithTransferSyntax(dataset, uid.ImplicitVRLittleEndian)
}

// getHandler stores every instance the peer pushes back during the C-GET.
type getHandler struct {
	logHandler
	outputDir string
	bar       *progressbar.ProgressBar

	mu       sync.Mutex
	received int
	errs     []error
}

func (h *getHandler) OnPeerRequest(msg *dimse.Message, data []byte, respond func(status uint16) error) {
	if msg.CommandField != dimse.CStoreRQ {
		h.logger.Warn("Ignoring unexpected peer command",
			"command_field", fmt.Sprintf("0x%04X", msg.CommandField))
		_ = respond(dimse.StatusFailure)
		return
	}

	path := filepath.Join(h.outputDir, msg.AffectedSOPInstanceUID+".dcm")
	encoded := dicom.EncodePart10(&dicom.FileInfo{
		SOPClassUID:       msg.AffectedSOPClassUID,
		SOPInstanceUID:    msg.AffectedSOPInstanceUID,
		TransferSyntaxUID: uid.ImplicitVRLittleEndian,
		Dataset:           data,
	})

	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		h.mu.Lock()
		h.errs = append(h.errs, fmt.Errorf("write %s: %w", path, err))
		h.mu.Unlock()
		_ = respond(dimse.StatusFailure)
		return
	}

	h.mu.Lock()
	h.received++
	h.mu.Unlock()
	h.bar.Add(1)
	h.logger.Debug("Stored retrieved instance",
		"file", path,
		"sop_class", msg.AffectedSOPClassUID,
		"sop_instance", msg.AffectedSOPInstanceUID,
		"size_bytes", len(data))
	_ = respond(dimse.StatusSuccess)
}

func runGet(ctx context.Context, config *Config, logger *slog.Logger, query retrieveQuery) error {
	if query.StudyUID == "" && query.SeriesUID == "" && query.SOPInstanceUID == "" {
		return fmt.Errorf("get requires at least one of -study, -series or -sop")
	}
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	identifier, err := query.identifier()
	if err != nil {
		return fmt.Errorf("encode identifier: %w", err)
	}

	handler := &getHandler{
		logHandler: logHandler{logger: logger},
		outputDir:  config.OutputDir,
		bar:        progressbar.Default(-1, "retrieving"),
	}
	client := scu.NewClient(clientConfig(config, logger), handler)

	var final dimse.GetResponse
	err = client.AddRequest(&dimse.GetRequest{
		Identifier: identifier,
		OnResponse: func(rsp dimse.GetResponse) {
			if rsp.Remaining != nil {
				logger.Debug("C-GET progress", "remaining", *rsp.Remaining)
			}
			if !dimse.IsPending(rsp.Status) {
				final = rsp
			}
		},
	})
	if err != nil {
		return err
	}

	if err := client.Send(ctx, config.address()); err != nil {
		return err
	}
	handler.bar.Finish()

	for _, writeErr := range handler.errs {
		logger.Error("Failed to persist instance", "error", writeErr)
	}
	if len(handler.errs) > 0 {
		return fmt.Errorf("%d instance(s) could not be written", len(handler.errs))
	}
	if final.Status != dimse.StatusSuccess {
		return fmt.Errorf("C-GET finished with status %s", statusString(final.Status))
	}

	fmt.Printf("Retrieved %d instance(s) into %s\n", handler.received, config.OutputDir)
	return nil
}
