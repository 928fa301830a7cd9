package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/setscout/ipc"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// IngestionError classifies ingestion errors for outcome determination.
type IngestionError struct {
	// Kind indicates whether this is a stream/frame error or a cancellation.
	Kind IngestionErrorKind
	// Err is the underlying error.
	Err error
}

// IngestionErrorKind classifies ingestion errors.
type IngestionErrorKind int

const (
	// IngestionErrorStream indicates a frame/stream error (stream error outcome).
	IngestionErrorStream IngestionErrorKind = iota
	// IngestionErrorCanceled indicates context cancellation.
	IngestionErrorCanceled
)

func (e *IngestionError) Error() string {
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorCanceled
	}
	return false
}

// IsStreamError returns true if the error is a stream/frame error.
func IsStreamError(err error) bool {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind == IngestionErrorStream
	}
	return false
}

// Handler consumes validated events in order.
// Returning an error wrapping ErrMalformedPayload drops the event;
// any other error ends ingestion.
type Handler interface {
	Handle(ctx context.Context, env *types.EventEnvelope) error
}

// IngestionEngine reads interceptor frames and hands events to a Handler.
//   - Frames are read in order
//   - Within a page session, seq must be strictly monotonic (1, 2, 3...)
//   - A new page session restarts the sequence
//   - Broken framing is fatal (no resync); an undecodable frame is dropped
//     and the next event may skip as many seq numbers as frames were dropped
//   - Malformed payloads are dropped and counted
type IngestionEngine struct {
	decoder    *ipc.FrameDecoder
	handler    Handler
	logger     *log.Logger
	collector  *metrics.Collector
	sessionID  string
	currentSeq int64
	sessions   int
	// dropped counts undecodable frames since the last accepted event.
	dropped int64
}

// NewIngestionEngine creates a new ingestion engine.
func NewIngestionEngine(
	reader io.Reader,
	handler Handler,
	logger *log.Logger,
	collector *metrics.Collector,
) *IngestionEngine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &IngestionEngine{
		decoder:   ipc.NewFrameDecoder(reader),
		handler:   handler,
		logger:    logger,
		collector: collector,
	}
}

// Run runs the ingestion loop until EOF or fatal error.
// Returns:
//   - nil: stream ended cleanly (EOF)
//   - *IngestionError with Kind=IngestionErrorStream: frame/stream error
//   - *IngestionError with Kind=IngestionErrorCanceled: context canceled
func (e *IngestionEngine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return &IngestionError{
				Kind: IngestionErrorCanceled,
				Err:  ctx.Err(),
			}
		default:
		}

		envelope, err := e.decoder.ReadEnvelope()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			var frameErr *ipc.FrameError
			if errors.As(err, &frameErr) && !frameErr.IsFatal() {
				// Boundary intact; skip this frame only.
				e.logger.Warn("dropping undecodable frame", map[string]any{
					"error": err.Error(),
				})
				e.collector.IncIPCDecodeErrors()
				e.dropped++
				continue
			}

			e.logger.Error("frame error", map[string]any{
				"error": err.Error(),
			})
			return &IngestionError{
				Kind: IngestionErrorStream,
				Err:  fmt.Errorf("frame error: %w", err),
			}
		}

		if err := e.processEvent(ctx, envelope); err != nil {
			return err
		}
	}
}

// processEvent validates an envelope and delegates it to the handler.
func (e *IngestionEngine) processEvent(ctx context.Context, envelope *types.EventEnvelope) error {
	if err := e.validateEnvelope(envelope); err != nil {
		e.logger.Error("envelope validation failed", map[string]any{
			"error": err.Error(),
			"type":  envelope.Type,
			"seq":   envelope.Seq,
		})
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("envelope validation failed: %w", err),
		}
	}

	if envelope.SessionID != e.sessionID {
		if e.sessionID != "" {
			e.logger.Info("page session changed", map[string]any{
				"previous": e.sessionID,
				"current":  envelope.SessionID,
			})
		}
		e.sessionID = envelope.SessionID
		e.currentSeq = 0
		e.sessions++
	}

	expectedSeq := e.currentSeq + 1
	if gap := envelope.Seq - expectedSeq; gap > 0 && gap <= e.dropped {
		e.logger.Warn("sequence gap after dropped frames", map[string]any{
			"expected": expectedSeq,
			"got":      envelope.Seq,
			"dropped":  e.dropped,
		})
	} else if envelope.Seq != expectedSeq {
		e.logger.Error("sequence violation", map[string]any{
			"expected": expectedSeq,
			"got":      envelope.Seq,
			"type":     envelope.Type,
		})
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("sequence violation: expected %d, got %d", expectedSeq, envelope.Seq),
		}
	}
	e.currentSeq = envelope.Seq
	e.dropped = 0
	e.collector.IncEventReceived()

	if err := e.handler.Handle(ctx, envelope); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			e.logger.Warn("dropping malformed event", map[string]any{
				"type":  envelope.Type,
				"seq":   envelope.Seq,
				"error": err.Error(),
			})
			e.collector.IncEventDropped(string(envelope.Type))
			return nil
		}
		if ctx.Err() != nil {
			return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
		}
		return &IngestionError{
			Kind: IngestionErrorStream,
			Err:  fmt.Errorf("handling %s event: %w", envelope.Type, err),
		}
	}

	return nil
}

// validateEnvelope checks the fields every event must carry.
func (e *IngestionEngine) validateEnvelope(envelope *types.EventEnvelope) error {
	if envelope.ContractVersion != types.ContractVersion {
		return fmt.Errorf("contract version mismatch: expected %s, got %s",
			types.ContractVersion, envelope.ContractVersion)
	}
	if envelope.SessionID == "" {
		return errors.New("envelope has no session_id")
	}
	if envelope.Type == "" {
		return errors.New("envelope has no type")
	}
	return nil
}

// CurrentSeq returns the last accepted sequence number of the current page session.
func (e *IngestionEngine) CurrentSeq() int64 {
	return e.currentSeq
}

// Sessions returns the number of page sessions seen so far.
func (e *IngestionEngine) Sessions() int {
	return e.sessions
}
