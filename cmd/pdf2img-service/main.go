// This file orchestrates the pdf-to-image service, initializing and running the NATS
// worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/pdf-to-image-service/internal/convert"
	"github.com/book-expert/pdf-to-image-service/internal/raster"
)

// configURLEnv names the environment variable holding the configuration URL.
const configURLEnv = "PDF2IMG_CONFIG_URL"

// ErrConfigURLMissing is returned when no configuration URL is set.
var ErrConfigURLMissing = errors.New(configURLEnv + " is not set")

// Config represents the overall configuration structure for the pdf-to-image-service.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Paths      PathsConfig      `toml:"paths"`
	Conversion ConversionConfig `toml:"conversion"`
}

// PathsConfig holds common path configurations.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// ConversionConfig selects how PDFs are rendered.
type ConversionConfig struct {
	Mode        string `toml:"mode"`
	Backend     string `toml:"backend"`
	JPEGQuality int    `toml:"jpeg_quality"`
}

// NATSConfig holds NATS-specific configuration for the pdf-to-image-service.
type NATSConfig struct {
	URL                    string `toml:"url"`
	PDFStreamName          string `toml:"pdf_stream_name"`
	PDFConsumerName        string `toml:"pdf_consumer_name"`
	PDFCreatedSubject      string `toml:"pdf_created_subject"`
	PDFObjectStoreBucket   string `toml:"pdf_object_store_bucket"`
	ImageStreamName        string `toml:"image_stream_name"`
	ImageCreatedSubject    string `toml:"image_created_subject"`
	ImageObjectStoreBucket string `toml:"image_object_store_bucket"`
}

// worker holds what every job shares.
type worker struct {
	jetStream  jetstream.JetStream
	pdfStore   jetstream.ObjectStore
	imageStore jetstream.ObjectStore
	converter  *convert.Converter
	cfg        *Config
	appLogger  *logger.Logger
	mode       convert.Mode
}

// job represents the context for processing a single message.
type job struct {
	*worker
	msg          jetstream.Msg
	event        *events.PDFCreatedEvent
	header       *events.EventHeader
	workDir      string
	localPDFPath string
}

const (
	natsFetchTimeout = 5 * time.Second
	ackWait          = 30 * time.Second
)

// main is the entry point of the application.
func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runErr := run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Fatal application error: %v", runErr)
		os.Exit(1)
	}

	log.Println("Application shut down gracefully.")
}

// run initializes all components and starts the message processing loop.
func run(ctx context.Context) error {
	cfg, appLogger, setupErr := setupConfigAndLogger()
	if setupErr != nil {
		return setupErr
	}
	defer func() {
		if closeErr := appLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close app logger: %v", closeErr)
		}
	}()

	mode, modeErr := convert.ParseMode(cfg.Conversion.Mode)
	if modeErr != nil {
		return fmt.Errorf("invalid conversion mode: %w", modeErr)
	}

	rasterizer, rasterErr := raster.Open(raster.Backend(cfg.Conversion.Backend))
	if rasterErr != nil {
		return fmt.Errorf("failed to start rasterizer: %w", rasterErr)
	}
	defer func() {
		if closeErr := rasterizer.Close(); closeErr != nil {
			appLogger.Warn("Failed to close rasterizer: %v", closeErr)
		}
	}()

	natsConnection, connErr := nats.Connect(cfg.NATS.URL)
	if connErr != nil {
		return fmt.Errorf("failed to connect to NATS: %w", connErr)
	}
	defer natsConnection.Close()
	appLogger.Info("Connected to NATS server at %s", natsConnection.ConnectedUrl())

	jetStream, jsErr := jetstream.New(natsConnection)
	if jsErr != nil {
		return fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	jsSetupErr := setupJetStream(ctx, jetStream, cfg)
	if jsSetupErr != nil {
		return fmt.Errorf("failed to set up JetStream resources: %w", jsSetupErr)
	}

	consumer, consumerErr := jetStream.Consumer(
		ctx,
		cfg.NATS.PDFStreamName,
		cfg.NATS.PDFConsumerName,
	)
	if consumerErr != nil {
		return fmt.Errorf("failed to get consumer: %w", consumerErr)
	}

	w, workerErr := newWorker(ctx, jetStream, cfg, appLogger, rasterizer, mode)
	if workerErr != nil {
		return workerErr
	}

	appLogger.Info(
		"Worker is running in %s mode, listening for jobs on '%s'...",
		mode,
		cfg.NATS.PDFCreatedSubject,
	)

	return w.processMessages(ctx, consumer)
}

// setupConfigAndLogger loads configuration and sets up the main application logger.
// A .env file in the working directory may supply the configuration URL.
func setupConfigAndLogger() (*Config, *logger.Logger, error) {
	_ = godotenv.Load(".env")

	configURL := os.Getenv(configURLEnv)
	if configURL == "" {
		return nil, nil, ErrConfigURLMissing
	}

	var cfg Config
	tempLogger, tempLoggerErr := logger.New(os.TempDir(), "pdf-to-image-bootstrap.log")
	if tempLoggerErr != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", tempLoggerErr)
	}
	defer func() {
		if closeErr := tempLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close temp logger: %v", closeErr)
		}
	}()

	loadErr := configurator.LoadFromURL(configURL, &cfg, tempLogger)
	if loadErr != nil {
		return nil, nil, fmt.Errorf(
			"failed to load configuration from URL %s: %w",
			configURL,
			loadErr,
		)
	}
	log.Printf("Configuration loaded from %s", configURL)

	appLogger, loggerErr := logger.New(cfg.Paths.BaseLogsDir, "pdf-to-image-service.log")
	if loggerErr != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", loggerErr)
	}

	return &cfg, appLogger, nil
}

// setupJetStream ensures all required NATS streams and object stores exist.
func setupJetStream(ctx context.Context, jetStream jetstream.JetStream, cfg *Config) error {
	_, streamErr := jetStream.CreateStream(
		ctx,
		newStreamConfig(cfg.NATS.PDFStreamName, cfg.NATS.PDFCreatedSubject),
	)
	if streamErr != nil && !errors.Is(streamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create PDF stream: %w", streamErr)
	}

	stream, streamErr := jetStream.Stream(ctx, cfg.NATS.PDFStreamName)
	if streamErr != nil {
		return fmt.Errorf("failed to get PDF stream handle: %w", streamErr)
	}
	_, consumerErr := stream.CreateOrUpdateConsumer(ctx, newConsumerConfig(cfg))
	if consumerErr != nil {
		return fmt.Errorf("failed to create PDF consumer: %w", consumerErr)
	}

	_, imageStreamErr := jetStream.CreateStream(
		ctx,
		newStreamConfig(cfg.NATS.ImageStreamName, cfg.NATS.ImageCreatedSubject),
	)
	if imageStreamErr != nil &&
		!errors.Is(imageStreamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create image stream: %w", imageStreamErr)
	}

	for _, bucket := range []string{cfg.NATS.PDFObjectStoreBucket, cfg.NATS.ImageObjectStoreBucket} {
		_, objStoreErr := jetStream.CreateObjectStore(ctx, newObjectStoreConfig(bucket))
		if objStoreErr != nil && !errors.Is(objStoreErr, jetstream.ErrBucketExists) {
			return fmt.Errorf("failed to create object store '%s': %w", bucket, objStoreErr)
		}
	}

	return nil
}

func newStreamConfig(name, subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		MaxMsgs:   -1,
		MaxBytes:  -1,
		Discard:   jetstream.DiscardOld,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	}
}

func newConsumerConfig(cfg *Config) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.NATS.PDFConsumerName,
		FilterSubject: cfg.NATS.PDFCreatedSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: -1,
	}
}

func newObjectStoreConfig(bucket string) jetstream.ObjectStoreConfig {
	return jetstream.ObjectStoreConfig{
		Bucket:   bucket,
		MaxBytes: -1,
		Storage:  jetstream.FileStorage,
		Replicas: 1,
	}
}

// newWorker binds the object stores and builds the shared converter.
func newWorker(
	ctx context.Context,
	jetStream jetstream.JetStream,
	cfg *Config,
	appLogger *logger.Logger,
	rasterizer raster.Rasterizer,
	mode convert.Mode,
) (*worker, error) {
	pdfStore, pdfStoreErr := jetStream.ObjectStore(ctx, cfg.NATS.PDFObjectStoreBucket)
	if pdfStoreErr != nil {
		return nil, fmt.Errorf("failed to bind to PDF object store: %w", pdfStoreErr)
	}
	imageStore, imageStoreErr := jetStream.ObjectStore(ctx, cfg.NATS.ImageObjectStoreBucket)
	if imageStoreErr != nil {
		return nil, fmt.Errorf("failed to bind to image object store: %w", imageStoreErr)
	}

	converter := convert.NewConverter(&convert.Options{
		ProgressBarOutput: os.Stdout,
		Background:        nil,
		JPEGQuality:       cfg.Conversion.JPEGQuality,
	}, rasterizer, appLogger)

	return &worker{
		jetStream:  jetStream,
		pdfStore:   pdfStore,
		imageStore: imageStore,
		converter:  converter,
		cfg:        cfg,
		appLogger:  appLogger,
		mode:       mode,
	}, nil
}

// processMessages implements the core worker loop. Messages are handled one at a
// time, so the converter never runs twice concurrently.
func (w *worker) processMessages(ctx context.Context, consumer jetstream.Consumer) error {
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context error in message loop: %w", ctxErr)
		}
		batch, fetchErr := consumer.Fetch(1, jetstream.FetchMaxWait(natsFetchTimeout))
		if fetchErr != nil {
			if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, nats.ErrTimeout) {
				continue
			}
			w.appLogger.Error("Error fetching messages: %v", fetchErr)
			continue
		}
		for msg := range batch.Messages() {
			w.handleMessage(ctx, msg)
		}
		if batchErr := batch.Error(); batchErr != nil {
			w.appLogger.Error("Error during message batch processing: %v", batchErr)
		}
	}
}

// handleMessage processes a single message.
func (w *worker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	event, unmarshalErr := unmarshalEvent(msg.Data())
	if unmarshalErr != nil {
		w.appLogger.Error("Failed to create job: %v", unmarshalErr)
		if termErr := msg.Term(); termErr != nil {
			w.appLogger.Error("Failed to TERM message: %v", termErr)
		}
		return
	}

	j := &job{
		worker:       w,
		msg:          msg,
		event:        event,
		header:       &event.Header,
		workDir:      "", // Will be set by setupWorkDir
		localPDFPath: "", // Will be set by setupWorkDir
	}
	j.run(ctx)
}

// unmarshalEvent unmarshals the PDFCreatedEvent from a message payload.
func unmarshalEvent(data []byte) (*events.PDFCreatedEvent, error) {
	var event events.PDFCreatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PDFCreatedEvent: %w", err)
	}
	return &event, nil
}

// run executes the full lifecycle of a job.
func (j *job) run(ctx context.Context) {
	j.appLogger.Info(
		"Received job for WorkflowID [%s]: processing PDF key '%s'",
		j.header.WorkflowID,
		j.event.PDFKey,
	)
	if progErr := j.msg.InProgress(); progErr != nil {
		j.appLogger.Warn("Failed to send InProgress update: %v", progErr)
	}

	dirErr := j.setupWorkDir()
	if dirErr != nil {
		j.nak(dirErr)
		return
	}
	defer j.cleanupWorkDir()

	if downloadErr := j.downloadPDF(ctx); downloadErr != nil {
		j.term(downloadErr)
		return
	}

	result, convertErr := j.converter.Run(j.localPDFPath, j.imagesDir(), j.mode)
	if convertErr != nil {
		j.settle(convertErr)
		return
	}

	if publishErr := j.publishImages(ctx, result); publishErr != nil {
		j.nak(publishErr)
		return
	}

	j.ack()
}

func (j *job) setupWorkDir() error {
	workDir, err := os.MkdirTemp("", fmt.Sprintf("pdf-%s-", j.header.WorkflowID))
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	j.workDir = workDir
	j.localPDFPath = filepath.Join(workDir, filepath.Base(j.event.PDFKey))
	return nil
}

func (j *job) imagesDir() string {
	return filepath.Join(j.workDir, "images")
}

func (j *job) cleanupWorkDir() {
	if err := os.RemoveAll(j.workDir); err != nil {
		j.appLogger.Warn("Failed to remove temp directory '%s': %v", j.workDir, err)
	}
}

func (j *job) downloadPDF(ctx context.Context) error {
	err := j.pdfStore.GetFile(ctx, j.event.PDFKey, j.localPDFPath)
	if err != nil {
		return fmt.Errorf("failed to get PDF '%s' from object store: %w", j.event.PDFKey, err)
	}
	return nil
}

// publishImages uploads every written image and announces it. The first failure
// stops the job so the message can be redelivered.
func (j *job) publishImages(ctx context.Context, result convert.Result) error {
	j.appLogger.Info(
		"Job [%s]: Found %d image(s) to publish.",
		j.header.WorkflowID,
		len(result.Files),
	)

	for index, localPath := range result.Files {
		objectName := imageObjectName(j.header, localPath)

		uploadErr := uploadFileToObjectStore(ctx, j.imageStore, objectName, localPath)
		if uploadErr != nil {
			return fmt.Errorf("failed to upload '%s': %w", objectName, uploadErr)
		}
		j.appLogger.Info("Job [%s]: Uploaded '%s'", j.header.WorkflowID, objectName)

		pageNumber := firstPageNumber(result.Mode, index)
		publishErr := j.publishImageCreatedEvent(
			ctx,
			objectName,
			result.PageCount,
			pageNumber,
		)
		if publishErr != nil {
			return fmt.Errorf("failed to publish event for '%s': %w", objectName, publishErr)
		}
	}
	return nil
}

// imageObjectName places an image under its tenant and workflow.
func imageObjectName(header *events.EventHeader, localPath string) string {
	return fmt.Sprintf("%s/%s/%s", header.TenantID, header.WorkflowID, filepath.Base(localPath))
}

// firstPageNumber is the one-based number of the first page shown in the
// image at position index.
func firstPageNumber(mode convert.Mode, index int) int {
	if mode == convert.ModePairedSpread {
		return 2*index + 1
	}
	return index + 1
}

// publishImageCreatedEvent marshals and publishes the event announcing one image.
func (j *job) publishImageCreatedEvent(
	ctx context.Context,
	imageKey string,
	totalPages, pageNum int,
) error {
	imageEvent := events.PNGCreatedEvent{
		Header: events.EventHeader{
			WorkflowID: j.header.WorkflowID,
			UserID:     j.header.UserID,
			TenantID:   j.header.TenantID,
			EventID:    uuid.New().String(),
			Timestamp:  time.Now(),
		},
		PNGKey:     imageKey,
		PageNumber: pageNum,
		TotalPages: totalPages,
	}
	eventJSON, marshalErr := json.Marshal(imageEvent)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal image event: %w", marshalErr)
	}
	_, pubErr := j.jetStream.Publish(ctx, j.cfg.NATS.ImageCreatedSubject, eventJSON)
	if pubErr != nil {
		return fmt.Errorf("failed to publish image event: %w", pubErr)
	}
	return nil
}

// settle rejects a job whose conversion failed. A document that cannot be
// opened or rendered is terminated; any other failure is redelivered.
func (j *job) settle(reason error) {
	if isPermanentFailure(reason) {
		j.term(reason)
		return
	}
	j.nak(reason)
}

// isPermanentFailure reports whether err fails the same way on every delivery.
func isPermanentFailure(err error) bool {
	return errors.Is(err, convert.ErrOpenDocument) ||
		errors.Is(err, convert.ErrRenderPage) ||
		errors.Is(err, convert.ErrUnknownMode)
}

func (j *job) ack() {
	if err := j.msg.Ack(); err != nil {
		j.appLogger.Error("Job [%s]: Failed to acknowledge message: %v", j.header.WorkflowID, err)
	} else {
		j.appLogger.Success("Job [%s]: Processing complete. Acknowledged.", j.header.WorkflowID)
	}
}

func (j *job) nak(reason error) {
	j.appLogger.Error("NAK'ing message for job [%s]: %v", j.header.WorkflowID, reason)
	if err := j.msg.Nak(); err != nil {
		j.appLogger.Error("Failed to NAK message: %v", err)
	}
}

func (j *job) term(reason error) {
	j.appLogger.Error("Terminating message for job [%s]: %v", j.header.WorkflowID, reason)
	if err := j.msg.Term(); err != nil {
		j.appLogger.Error("Failed to TERM message: %v", err)
	}
}

func uploadFileToObjectStore(
	ctx context.Context,
	store jetstream.ObjectStore,
	objectName, filePath string,
) error {
	file, openErr := os.Open(filePath)
	if openErr != nil {
		return fmt.Errorf("failed to open file for upload: %w", openErr)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("Warning: failed to close file '%s': %v", filePath, closeErr)
		}
	}()

	meta := jetstream.ObjectMeta{Name: objectName}
	_, putErr := store.Put(ctx, meta, file)
	if putErr != nil {
		return fmt.Errorf("failed to put file in object store: %w", putErr)
	}
	return nil
}
