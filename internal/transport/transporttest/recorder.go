// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	kit "readerbot/internal/transport"
)

type Sent struct {
	Ref     kit.MessageRef
	Text    string
	Options kit.SendOptions
}

type Edit struct {
	Ref  kit.MessageRef
	Text string
}

// Recorder records outbound traffic. Hooks, when set, run before the
// corresponding call is recorded and may fail it.
type Recorder struct {
	mu     sync.Mutex
	nextID int

	sent     []Sent
	edits    []Edit
	deleted  []kit.MessageRef
	audio    []kit.Audio
	answered []string
	files    map[string][]byte

	OnSend   func(text string, opt kit.SendOptions) error
	OnEdit   func(text string) error
	OnDelete func(ref kit.MessageRef) error
}

func New() *Recorder { return &Recorder{files: map[string][]byte{}} }

func (r *Recorder) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (r *Recorder) Stop(ctx context.Context) error                         { return nil }

func (r *Recorder) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	if r.OnSend != nil {
		if err := r.OnSend(text, o); err != nil {
			return kit.MessageRef{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: r.nextID}
	r.sent = append(r.sent, Sent{Ref: ref, Text: text, Options: o})
	return ref, nil
}

func (r *Recorder) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if r.OnEdit != nil {
		if err := r.OnEdit(text); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, Edit{Ref: ref, Text: text})
	return nil
}

func (r *Recorder) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if r.OnDelete != nil {
		if err := r.OnDelete(ref); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, ref)
	return nil
}

func (r *Recorder) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callbackID)
	return nil
}

func (r *Recorder) SendAudio(ctx context.Context, to kit.ChatTarget, audio kit.Audio) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.audio = append(r.audio, audio)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: r.nextID}, nil
}

// PutFile registers content served by DownloadFile.
func (r *Recorder) PutFile(fileID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[fileID] = data
}

func (r *Recorder) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Recorder) Edits() []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edit(nil), r.edits...)
}

func (r *Recorder) Deleted() []kit.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.MessageRef(nil), r.deleted...)
}

func (r *Recorder) Audio() []kit.Audio {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kit.Audio(nil), r.audio...)
}

func (r *Recorder) Answered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.answered...)
}

// Texts returns the text of every sent message in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Text)
	}
	return out
}
