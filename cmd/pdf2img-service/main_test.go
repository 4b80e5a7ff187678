package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image-service/internal/convert"
	"github.com/book-expert/pdf-to-image-service/internal/raster"
)

func TestUnmarshalEvent(t *testing.T) {
	t.Parallel()

	t.Run("Valid payload", func(t *testing.T) {
		t.Parallel()

		payload, err := json.Marshal(events.PDFCreatedEvent{
			Header: events.EventHeader{
				WorkflowID: "wf-1",
				UserID:     "user-1",
				TenantID:   "tenant-1",
				EventID:    "event-1",
				Timestamp:  time.Unix(1700000000, 0).UTC(),
			},
			PDFKey: "atlas.pdf",
		})
		require.NoError(t, err)

		event, err := unmarshalEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, "atlas.pdf", event.PDFKey)
		assert.Equal(t, "wf-1", event.Header.WorkflowID)
	})

	t.Run("Garbage payload", func(t *testing.T) {
		t.Parallel()

		_, err := unmarshalEvent([]byte("{not json"))
		require.Error(t, err)
	})
}

func TestImageObjectName(t *testing.T) {
	t.Parallel()

	header := &events.EventHeader{
		WorkflowID: "wf-9",
		UserID:     "user-1",
		TenantID:   "acme",
		EventID:    "",
		Timestamp:  time.Time{},
	}

	assert.Equal(
		t,
		"acme/wf-9/spread_0002.jpg",
		imageObjectName(header, "/tmp/x/images/spread_0002.jpg"),
	)
}

func TestFirstPageNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, firstPageNumber(convert.ModeSinglePage, 0))
	assert.Equal(t, 4, firstPageNumber(convert.ModeSinglePage, 3))
	assert.Equal(t, 1, firstPageNumber(convert.ModePairedSpread, 0))
	assert.Equal(t, 5, firstPageNumber(convert.ModePairedSpread, 2))
}

func TestJetStreamConfigs(t *testing.T) {
	t.Parallel()

	stream := newStreamConfig("PDFS", "pdf.created")
	assert.Equal(t, "PDFS", stream.Name)
	assert.Equal(t, []string{"pdf.created"}, stream.Subjects)
	assert.Equal(t, jetstream.WorkQueuePolicy, stream.Retention)

	cfg := &Config{
		NATS: NATSConfig{
			URL:                    "nats://localhost:4222",
			PDFStreamName:          "PDFS",
			PDFConsumerName:        "pdf-to-image",
			PDFCreatedSubject:      "pdf.created",
			PDFObjectStoreBucket:   "pdfs",
			ImageStreamName:        "IMAGES",
			ImageCreatedSubject:    "image.created",
			ImageObjectStoreBucket: "images",
		},
		Paths:      PathsConfig{BaseLogsDir: ""},
		Conversion: ConversionConfig{Mode: "spread", Backend: "", JPEGQuality: 0},
	}
	consumer := newConsumerConfig(cfg)
	assert.Equal(t, "pdf-to-image", consumer.Durable)
	assert.Equal(t, "pdf.created", consumer.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, consumer.AckPolicy)

	store := newObjectStoreConfig("images")
	assert.Equal(t, "images", store.Bucket)
	assert.Equal(t, jetstream.FileStorage, store.Storage)
}

func TestSetupConfigAndLogger_RequiresURL(t *testing.T) {
	t.Setenv(configURLEnv, "")

	_, _, err := setupConfigAndLogger()
	require.ErrorIs(t, err, ErrConfigURLMissing)
}

func TestIsPermanentFailure(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{
			name:      "Unreadable document",
			err:       fmt.Errorf("%w book.pdf: %w", convert.ErrOpenDocument, errors.New("no header")),
			permanent: true,
		},
		{
			name:      "Page that fails to render",
			err:       fmt.Errorf("%w 3: %w", convert.ErrRenderPage, raster.ErrEmptyPage),
			permanent: true,
		},
		{
			name:      "Image that fails to save",
			err:       fmt.Errorf("%w 0001.jpg: %w", convert.ErrSaveImage, fs.ErrPermission),
			permanent: false,
		},
		{
			name:      "Output directory that cannot be created",
			err:       fmt.Errorf("failed to create output directory out: %w", fs.ErrExist),
			permanent: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.permanent, isPermanentFailure(tc.err))
		})
	}
}

// fakeMsg records how a job settles its message.
type fakeMsg struct {
	jetstream.Msg

	acked, naked, termed int
}

func (msg *fakeMsg) InProgress() error { return nil }

func (msg *fakeMsg) Ack() error {
	msg.acked++

	return nil
}

func (msg *fakeMsg) Nak() error {
	msg.naked++

	return nil
}

func (msg *fakeMsg) Term() error {
	msg.termed++

	return nil
}

// fakePDFStore serves every key as the same bytes. When blockImages is set it
// also leaves a regular file where the job's images directory belongs.
type fakePDFStore struct {
	jetstream.ObjectStore

	blockImages bool
}

func (store *fakePDFStore) GetFile(
	_ context.Context,
	_, file string,
	_ ...jetstream.GetObjectOpt,
) error {
	if store.blockImages {
		blocker := filepath.Join(filepath.Dir(file), "images")
		if err := os.WriteFile(blocker, nil, 0o600); err != nil {
			return err
		}
	}

	return os.WriteFile(file, []byte("%PDF-1.4"), 0o600)
}

type failingDocument struct{}

func (failingDocument) PageCount() int { return 1 }

func (failingDocument) Render(index int, _ raster.TargetSize) (*raster.Page, error) {
	return nil, fmt.Errorf("%w: page %d", raster.ErrEmptyPage, index)
}

func (failingDocument) Close() error { return nil }

type stubRasterizer struct {
	openErr error
}

func (rasterizer stubRasterizer) Open(_ string) (raster.Document, error) {
	if rasterizer.openErr != nil {
		return nil, rasterizer.openErr
	}

	return failingDocument{}, nil
}

func (stubRasterizer) Close() error { return nil }

func TestJobSettlesConversionFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		rasterizer raster.Rasterizer
		store      *fakePDFStore
		wantTerm   bool
	}{
		{
			name:       "Document that cannot be opened is terminated",
			rasterizer: stubRasterizer{openErr: errors.New("no header")},
			store:      &fakePDFStore{blockImages: false},
			wantTerm:   true,
		},
		{
			name:       "Page that cannot be rendered is terminated",
			rasterizer: stubRasterizer{openErr: nil},
			store:      &fakePDFStore{blockImages: false},
			wantTerm:   true,
		},
		{
			name:       "Local I/O failure is redelivered",
			rasterizer: stubRasterizer{openErr: nil},
			store:      &fakePDFStore{blockImages: true},
			wantTerm:   false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			appLogger, err := logger.New(t.TempDir(), "service.log")
			require.NoError(t, err)

			defer func() { _ = appLogger.Close() }()

			opts := &convert.Options{
				ProgressBarOutput: io.Discard,
				Background:        nil,
				JPEGQuality:       0,
			}
			msg := &fakeMsg{Msg: nil, acked: 0, naked: 0, termed: 0}
			j := &job{
				worker: &worker{
					jetStream:  nil,
					pdfStore:   tc.store,
					imageStore: nil,
					converter:  convert.NewConverter(opts, tc.rasterizer, appLogger),
					cfg:        nil,
					appLogger:  appLogger,
					mode:       convert.ModeSinglePage,
				},
				msg: msg,
				event: &events.PDFCreatedEvent{
					Header: events.EventHeader{},
					PDFKey: "book.pdf",
				},
				header: &events.EventHeader{
					WorkflowID: "wf-1",
					UserID:     "user-1",
					TenantID:   "tenant-1",
					EventID:    "event-1",
					Timestamp:  time.Time{},
				},
				workDir:      "",
				localPDFPath: "",
			}

			j.run(context.Background())

			assert.Equal(t, 0, msg.acked)
			if tc.wantTerm {
				assert.Equal(t, 1, msg.termed)
				assert.Equal(t, 0, msg.naked)
			} else {
				assert.Equal(t, 0, msg.termed)
				assert.Equal(t, 1, msg.naked)
			}
		})
	}
}
