package expense

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/expense-capture/internal/scanning"
)

// ErrSuperseded is returned by Process when a newer request started before
// this one finished. Its result was not published.
var ErrSuperseded = errors.New("superseded by a newer request")

const subscriberBuffer = 8

// Pipeline runs image → OCR → extraction and publishes the resulting state.
// Only the most recently started request may publish.
type Pipeline struct {
	recognizer scanning.Recognizer
	extractor  scanning.Extractor
	language   string

	mu     sync.Mutex
	seq    uint64
	state  State
	cancel context.CancelFunc
	subs   map[chan State]struct{}
}

// NewPipeline creates a Pipeline in the idle state. An empty language uses
// the recognizer's default.
func NewPipeline(recognizer scanning.Recognizer, extractor scanning.Extractor, language string) *Pipeline {
	return &Pipeline{
		recognizer: recognizer,
		extractor:  extractor,
		language:   language,
		subs:       make(map[chan State]struct{}),
	}
}

// Process runs one request to completion and returns its terminal state.
// Starting it cancels any request still in flight.
func (p *Pipeline) Process(ctx context.Context, image []byte) (State, error) {
	ctx, id := p.begin(ctx)
	return p.complete(ctx, id, image)
}

// Submit starts a request and returns at once. The channel yields the
// request's terminal state, or is closed empty if the request was superseded.
func (p *Pipeline) Submit(ctx context.Context, image []byte) <-chan State {
	ctx, id := p.begin(ctx)
	out := make(chan State, 1)
	go func() {
		defer close(out)
		st, err := p.complete(ctx, id, image)
		if err == nil {
			out <- st
		}
	}()
	return out
}

// State returns the current snapshot
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reset returns to idle and abandons any request in flight
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.seq++
	p.setLocked(State{Status: StatusIdle, RequestID: p.seq})
}

// Subscribe delivers the current state and every state published after it.
// A subscriber that falls behind loses older states, never the newest one.
// Call the returned func to stop receiving; it closes the channel.
func (p *Pipeline) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	ch <- p.state
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			close(ch)
			p.mu.Unlock()
		})
	}
}

func (p *Pipeline) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.seq++
	p.setLocked(State{Status: StatusLoading, RequestID: p.seq})
	return ctx, p.seq
}

func (p *Pipeline) complete(ctx context.Context, id uint64, image []byte) (State, error) {
	start := time.Now()
	slog.Info("Processing receipt", "request_id", id, "size", len(image))

	st := p.run(ctx, id, image)

	if err := p.finish(id, st); err != nil {
		slog.Info("Discarding superseded result", "request_id", id, "status", st.Status)
		return st, err
	}

	if st.Failure != nil {
		slog.Warn("Receipt processing failed",
			"request_id", id,
			"stage", st.Failure.Stage,
			"kind", st.Failure.Kind.String(),
			"message", st.Failure.Message,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Info("Receipt processed", "request_id", id, "elapsed_ms", time.Since(start).Milliseconds())
	}
	return st, nil
}

// run performs the two provider calls. It never touches shared state except
// to publish the OCR text while still loading.
func (p *Pipeline) run(ctx context.Context, id uint64, image []byte) State {
	recognized, err := p.recognizer.Recognize(ctx, image, p.language)
	if err != nil {
		return failed(id, "", StageOCR, scanning.KindOf(err), "OCR: "+err.Error())
	}

	text, ok := recognized.FirstText()
	if !ok {
		return noTextFailure(id, recognized)
	}

	p.update(id, func(s *State) { s.Text = text })

	if err := ctx.Err(); err != nil {
		return failed(id, text, StageExtraction, scanning.KindNetwork, "Extraction: canceled: "+err.Error())
	}

	extracted, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return failed(id, text, StageExtraction, scanning.KindOf(err), "Extraction: "+err.Error())
	}

	return State{
		Status:    StatusSucceeded,
		RequestID: id,
		Text:      text,
		Expense:   extracted,
	}
}

func noTextFailure(id uint64, recognized *scanning.RecognizedText) State {
	msg := "OCR: no text found"
	kind := scanning.KindInvalidResponseShape
	if recognized != nil && recognized.IsErroredOnProcessing {
		kind = scanning.KindProviderReported
	}
	if detail := recognized.ProviderError(); detail != "" {
		msg += " (" + detail + ")"
	}
	return failed(id, "", StageOCR, kind, msg)
}

func failed(id uint64, text string, stage Stage, kind scanning.Kind, msg string) State {
	return State{
		Status:    StatusFailed,
		RequestID: id,
		Text:      text,
		Failure:   &Failure{Stage: stage, Kind: kind, Message: msg},
	}
}

// update mutates the published state if id is still current
func (p *Pipeline) update(id uint64, fn func(*State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id != p.seq {
		return
	}
	next := p.state
	fn(&next)
	p.setLocked(next)
}

// finish publishes the terminal state in one step: loading is cleared and the
// result set together.
func (p *Pipeline) finish(id uint64, st State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id != p.seq {
		return ErrSuperseded
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.setLocked(st)
	return nil
}

func (p *Pipeline) setLocked(st State) {
	p.state = st
	for ch := range p.subs {
		select {
		case ch <- st:
		default:
			// Drop the oldest queued state to make room for the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
