package calypso

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RecoveryStatus is the lifecycle of a key recovery run.
type RecoveryStatus int

const (
	RecoveryIdle RecoveryStatus = iota
	RecoveryRunning
	RecoveryFound    // a corpus key opened a secure session
	RecoveryComplete // corpus exhausted without success
	RecoveryStopped  // cancelled or aborted by a transport failure
)

func (s RecoveryStatus) String() string {
	switch s {
	case RecoveryIdle:
		return "idle"
	case RecoveryRunning:
		return "running"
	case RecoveryFound:
		return "found"
	case RecoveryComplete:
		return "complete"
	case RecoveryStopped:
		return "stopped"
	default:
		return fmt.Sprintf("RecoveryStatus(%d)", int(s))
	}
}

// Terminal reports whether no further attempts will be made.
func (s RecoveryStatus) Terminal() bool {
	return s == RecoveryFound || s == RecoveryComplete || s == RecoveryStopped
}

// Progress is a snapshot of a recovery run.
type Progress struct {
	Status    RecoveryStatus
	KeysTried int
	TotalKeys int
	Elapsed   time.Duration
	Found     *CorpusKey // set when Status is RecoveryFound
}

// Recovery tries corpus keys one at a time until one opens a secure session
// on the card. Every attempt is a fresh select and open; nothing from a
// failed attempt carries into the next.
type Recovery struct {
	tr       Transmitter
	card     *Card
	app      *Application
	keyIndex byte
	corpus   []CorpusKey

	next    int
	status  RecoveryStatus
	started time.Time
	elapsed time.Duration
	found   *CorpusKey
	now     func() time.Time
}

// NewRecovery prepares a run over corpus against keyIndex of app.
func NewRecovery(tr Transmitter, card *Card, app *Application, keyIndex byte, corpus []CorpusKey) (*Recovery, error) {
	if card == nil || app == nil {
		return nil, &InputError{Op: "key recovery", Msg: "card and application are required"}
	}
	if card.Security == SecurityNone {
		return nil, &InputError{Op: "key recovery", Msg: "card does not support secure sessions"}
	}
	return &Recovery{
		tr:       tr,
		card:     card,
		app:      app,
		keyIndex: keyIndex,
		corpus:   append([]CorpusKey(nil), corpus...),
		now:      time.Now,
	}, nil
}

// Progress returns the current snapshot.
func (r *Recovery) Progress() Progress {
	p := Progress{
		Status:    r.status,
		KeysTried: r.next,
		TotalKeys: len(r.corpus),
		Elapsed:   r.elapsed,
	}
	if r.status == RecoveryRunning {
		p.Elapsed = r.now().Sub(r.started)
	}
	if r.found != nil {
		k := *r.found
		p.Found = &k
	}
	return p
}

// Stop ends the run before the next attempt.
func (r *Recovery) Stop() {
	if r.status.Terminal() {
		return
	}
	r.finish(RecoveryStopped)
}

func (r *Recovery) finish(s RecoveryStatus) {
	if r.status == RecoveryRunning {
		r.elapsed = r.now().Sub(r.started)
	}
	r.status = s
}

// TryNextKey makes one attempt with the next corpus key. A card rejection
// moves on to the next key; a transport failure stops the run and is
// returned. Calling it after the run ended returns the final snapshot.
func (r *Recovery) TryNextKey() (Progress, error) {
	if r.status.Terminal() {
		return r.Progress(), nil
	}
	if r.status == RecoveryIdle {
		r.started = r.now()
		r.status = RecoveryRunning
	}
	if r.next >= len(r.corpus) {
		r.finish(RecoveryComplete)
		return r.Progress(), nil
	}

	k := r.corpus[r.next]
	r.next++
	ok, err := r.attempt(k)
	switch {
	case err != nil:
		r.finish(RecoveryStopped)
		return r.Progress(), fmt.Errorf("key %d (%s): %w", k.Index, k.Label, err)
	case ok:
		r.found = &k
		r.finish(RecoveryFound)
		slog.Info("key found", "index", k.Index, "label", k.Label, "tried", r.next)
	case r.next >= len(r.corpus):
		r.finish(RecoveryComplete)
	}
	return r.Progress(), nil
}

func (r *Recovery) attempt(k CorpusKey) (bool, error) {
	sess := NewSession(r.tr, r.card)
	if err := sess.SelectApplication(r.app); err != nil {
		return false, err
	}
	auth, err := NewAuthContext(k.Key[:], r.card.Security)
	if err != nil {
		return false, err
	}
	defer auth.Clear()

	err = sess.Open(auth, r.keyIndex)
	if err == nil {
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("close after successful open failed", "error", cerr)
		}
		return true, nil
	}
	if IsProtocolReject(err) {
		return false, nil
	}
	return false, err
}

// Run attempts keys until one succeeds, the corpus is exhausted, a transport
// failure occurs or ctx is cancelled. Cancellation is checked between
// attempts. onProgress, when set, sees every snapshot.
func (r *Recovery) Run(ctx context.Context, onProgress func(Progress)) (Progress, error) {
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			p := r.Progress()
			if onProgress != nil {
				onProgress(p)
			}
			return p, ctx.Err()
		default:
		}
		p, err := r.TryNextKey()
		if onProgress != nil {
			onProgress(p)
		}
		if err != nil || p.Status.Terminal() {
			return p, err
		}
	}
}
