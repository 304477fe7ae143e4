package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chatdrop/upload")

// Controller admits one streamed upload per call into its Store.
type Controller struct {
	store  *Store
	policy Policy
	log    *logrus.Entry

	// admitMu covers eviction, the duplicate check and sink creation so that
	// concurrent uploads cannot overshoot the quota. Streaming runs unlocked.
	admitMu  sync.Mutex
	inflight map[string]struct{}
	// admitted records the admission order of blobs created by this
	// controller. It breaks eviction ties between equal modification times.
	admitted map[string]uint64
	seq      uint64
}

// NewController binds a policy to a store.
func NewController(store *Store, policy Policy, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		store:    store,
		policy:   policy,
		log:      log.WithField("store", policy.Name),
		inflight: make(map[string]struct{}),
		admitted: make(map[string]uint64),
	}
}

// Policy returns the controller's admission policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Store returns the backing store.
func (c *Controller) Store() *Store {
	return c.store
}

// Admit sanitizes rawName and streams body into the store. declaredLength is
// the client's Content-Length, or -1 when unknown. Failures are returned as
// *AdmissionError and never leave a partial blob behind.
func (c *Controller) Admit(ctx context.Context, rawName string, declaredLength int64, body io.Reader) (Blob, error) {
	ctx, span := tracer.Start(ctx, "upload.admit",
		trace.WithAttributes(
			attribute.String("store", c.policy.Name),
			attribute.Int64("declared_length", declaredLength),
		),
	)
	defer span.End()

	blob, err := c.admit(ctx, rawName, declaredLength, body)
	span.SetAttributes(attribute.String("outcome", outcome(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Blob{}, err
	}
	span.SetAttributes(
		attribute.String("filename", blob.Name),
		attribute.Int64("bytes", blob.SizeBytes),
	)
	return blob, nil
}

func (c *Controller) admit(ctx context.Context, rawName string, declaredLength int64, body io.Reader) (Blob, error) {
	name, err := Sanitize(rawName)
	if err != nil {
		return Blob{}, badRequest(err)
	}
	log := c.log.WithField("filename", name)

	if c.policy.MaxSizeBytes > 0 && declaredLength > c.policy.MaxSizeBytes {
		log.WithFields(logrus.Fields{
			"declared": humanize.IBytes(uint64(declaredLength)),
			"limit":    humanize.IBytes(uint64(c.policy.MaxSizeBytes)),
		}).Warn("Rejected upload by declared length")
		return Blob{}, tooLarge(fmt.Errorf("%w: declared %d bytes", ErrTooLarge, declaredLength))
	}

	sink, err := c.reserve(ctx, name)
	if err != nil {
		return Blob{}, err
	}
	defer c.release(name)

	written, err := c.stream(sink, body)
	if err != nil {
		if rmErr := c.store.Delete(name); rmErr != nil {
			log.WithError(rmErr).Error("Failed to remove partial upload")
		}
		log.WithError(err).WithField("bytes", written).Warn("Upload aborted")
		if errors.Is(err, ErrTooLarge) {
			return Blob{}, tooLarge(err)
		}
		return Blob{}, internalFailure(err)
	}

	blob, err := c.store.Stat(name)
	if err != nil {
		return Blob{}, internalFailure(err)
	}
	log.WithField("bytes", humanize.IBytes(uint64(blob.SizeBytes))).Info("Upload stored")
	return blob, nil
}

// reserve runs the capacity quota, duplicate check and exclusive create.
func (c *Controller) reserve(ctx context.Context, name string) (io.WriteCloser, error) {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	if c.policy.MaxCount > 0 {
		evicted, err := c.store.EvictOldestIfOverCapacity(ctx, c.policy.MaxCount, c.evictOptions())
		c.forget(evicted)
		if err != nil {
			return nil, internalFailure(fmt.Errorf("evict oldest: %w", err))
		}
	}

	if c.policy.RejectDuplicates {
		exists, err := c.store.Exists(name)
		if err != nil {
			return nil, internalFailure(err)
		}
		if exists {
			return nil, conflict(fmt.Errorf("%w: %s", ErrExists, name))
		}
	}

	sink, err := c.store.CreateExclusive(name)
	if err != nil {
		if !errors.Is(err, ErrExists) {
			return nil, internalFailure(err)
		}
		if c.policy.RejectDuplicates {
			return nil, conflict(err)
		}
		if _, busy := c.inflight[name]; c.policy.ClearStaleOnConflict && !busy {
			if rmErr := c.store.Delete(name); rmErr == nil {
				c.forget([]string{name})
				c.log.WithField("filename", name).Info("Cleared existing file after create collision")
			}
		}
		return nil, internalFailure(err)
	}

	if c.policy.MaxCount > 0 {
		c.seq++
		c.admitted[name] = c.seq
	}
	c.inflight[name] = struct{}{}
	return sink, nil
}

// release ends an upload. Blobs admitted while this one was streaming may have
// pushed the store past its quota, so the oldest finished ones are trimmed
// before the name leaves the in-flight set.
func (c *Controller) release(name string) {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	if c.policy.MaxCount > 0 {
		evicted, err := c.store.TrimToCapacity(context.Background(), c.policy.MaxCount, c.evictOptions())
		c.forget(evicted)
		if err != nil {
			c.log.WithError(err).Error("Failed to trim store to capacity")
		}
	}
	delete(c.inflight, name)
}

// evictOptions must be used with admitMu held.
func (c *Controller) evictOptions() EvictOptions {
	return EvictOptions{
		Skip: func(name string) bool {
			_, busy := c.inflight[name]
			return busy
		},
		// Blobs from before this process started rank 0.
		Rank: func(name string) uint64 {
			return c.admitted[name]
		},
	}
}

func (c *Controller) forget(names []string) {
	for _, name := range names {
		delete(c.admitted, name)
	}
}

func (c *Controller) stream(sink io.WriteCloser, body io.Reader) (int64, error) {
	src := body
	if c.policy.EnforceStreaming && c.policy.MaxSizeBytes > 0 {
		src = NewLimitReader(body, c.policy.MaxSizeBytes)
	}

	written, err := io.Copy(sink, src)
	if closeErr := sink.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

func outcome(err error) string {
	if err == nil {
		return "created"
	}
	return KindOf(err).String()
}
