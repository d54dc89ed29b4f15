// Package approval implements the single-slot rendezvous between the tool
// dispatcher and interactive input. At most one approval request and one
// question may be outstanding at any time; subscribers (the UI layer) are
// notified whenever the current request changes, including to nil on
// completion.
package approval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"mosaic/internal/logging"
)

var (
	// ErrInterrupted is returned when a pending request is cancelled.
	ErrInterrupted = errors.New("interrupted")

	// ErrTimedOut is returned when a request's timeout elapses.
	ErrTimedOut = errors.New("timed-out")

	// ErrAlreadyPending is returned when a second request of the same
	// kind is issued while one is outstanding.
	ErrAlreadyPending = errors.New("request already pending")

	// ErrNoPending is returned by respond/answer/cancel with no request.
	ErrNoPending = errors.New("no pending request")
)

// Preview is the human-readable summary shown with an approval request.
type Preview struct {
	Title   string
	Content string
	Details string
}

// Request asks the user to approve or reject one tool invocation.
type Request struct {
	ID       string
	ToolName string
	Args     map[string]any
	Preview  Preview
}

// Response is the user's decision on an approval request.
type Response struct {
	Approved       bool
	CustomResponse string
}

// Option is one selectable answer to a question.
type Option struct {
	Label string
	Value string
	Group string
}

// Validation constrains free-text answers to a question.
type Validation struct {
	Pattern string
	Message string
}

// Question asks the user to pick an option or provide free text.
type Question struct {
	ID         string
	Prompt     string
	Options    []Option
	Timeout    time.Duration
	Validation *Validation
}

// Answer is the user's response to a question. Index is the chosen option,
// or -1 when CustomText was supplied instead.
type Answer struct {
	Index      int
	CustomText string
}

type approvalSlot struct {
	req  *Request
	done chan Response
	fail chan error
}

type questionSlot struct {
	q     *Question
	done  chan Answer
	fail  chan error
	timer *time.Timer
}

// Bridge is the process-wide rendezvous. The zero value is not usable;
// construct with NewBridge.
type Bridge struct {
	mu sync.Mutex

	approval *approvalSlot
	question *questionSlot

	approvalSubs map[int]func(*Request)
	questionSubs map[int]func(*Question)
	nextSub      int
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		approvalSubs: make(map[int]func(*Request)),
		questionSubs: make(map[int]func(*Question)),
	}
}

// SubscribeApproval registers a listener for approval slot changes and
// returns an unsubscribe function. The listener receives nil when the slot
// clears.
func (b *Bridge) SubscribeApproval(fn func(*Request)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.approvalSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.approvalSubs, id)
	}
}

// SubscribeQuestion registers a listener for question slot changes.
func (b *Bridge) SubscribeQuestion(fn func(*Question)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.questionSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.questionSubs, id)
	}
}

func (b *Bridge) notifyApproval(req *Request) {
	for _, fn := range b.approvalSubs {
		fn(req)
	}
}

func (b *Bridge) notifyQuestion(q *Question) {
	for _, fn := range b.questionSubs {
		fn(q)
	}
}

// PendingApproval returns the outstanding approval request, if any.
func (b *Bridge) PendingApproval() *Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.approval == nil {
		return nil
	}
	return b.approval.req
}

// PendingQuestion returns the outstanding question, if any.
func (b *Bridge) PendingQuestion() *Question {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.question == nil {
		return nil
	}
	return b.question.q
}

// RequestApproval publishes an approval request and blocks until the user
// responds, the context is cancelled, or Cancel is called. It fails
// immediately with ErrAlreadyPending when a request is outstanding.
func (b *Bridge) RequestApproval(ctx context.Context, req *Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	b.mu.Lock()
	if b.approval != nil {
		b.mu.Unlock()
		return Response{}, ErrAlreadyPending
	}
	slot := &approvalSlot{
		req:  req,
		done: make(chan Response, 1),
		fail: make(chan error, 1),
	}
	b.approval = slot
	b.notifyApproval(req)
	b.mu.Unlock()

	logging.Approval("awaiting approval: %s (%s)", req.Preview.Title, req.ID)

	select {
	case resp := <-slot.done:
		return resp, nil
	case err := <-slot.fail:
		return Response{}, err
	case <-ctx.Done():
		b.clearApproval(slot)
		return Response{}, ErrInterrupted
	}
}

// RespondApproval resolves the pending approval request exactly once.
func (b *Bridge) RespondApproval(approved bool, customResponse string) error {
	b.mu.Lock()
	slot := b.approval
	if slot == nil {
		b.mu.Unlock()
		return ErrNoPending
	}
	b.approval = nil
	b.notifyApproval(nil)
	b.mu.Unlock()

	logging.ApprovalDebug("approval %s resolved: approved=%v", slot.req.ID, approved)
	slot.done <- Response{Approved: approved, CustomResponse: customResponse}
	return nil
}

// CancelApproval rejects the pending approval request with ErrInterrupted.
func (b *Bridge) CancelApproval() error {
	b.mu.Lock()
	slot := b.approval
	if slot == nil {
		b.mu.Unlock()
		return ErrNoPending
	}
	b.approval = nil
	b.notifyApproval(nil)
	b.mu.Unlock()

	slot.fail <- ErrInterrupted
	return nil
}

func (b *Bridge) clearApproval(slot *approvalSlot) {
	b.mu.Lock()
	if b.approval == slot {
		b.approval = nil
		b.notifyApproval(nil)
	}
	b.mu.Unlock()
}

// AskQuestion publishes a question and blocks until an answer, timeout,
// cancellation, or context expiry.
func (b *Bridge) AskQuestion(ctx context.Context, q *Question) (Answer, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	b.mu.Lock()
	if b.question != nil {
		b.mu.Unlock()
		return Answer{}, ErrAlreadyPending
	}
	slot := &questionSlot{
		q:    q,
		done: make(chan Answer, 1),
		fail: make(chan error, 1),
	}
	if q.Timeout > 0 {
		slot.timer = time.AfterFunc(q.Timeout, func() {
			b.mu.Lock()
			if b.question == slot {
				b.question = nil
				b.notifyQuestion(nil)
				slot.fail <- ErrTimedOut
			}
			b.mu.Unlock()
		})
	}
	b.question = slot
	b.notifyQuestion(q)
	b.mu.Unlock()

	logging.Approval("awaiting answer: %s (%s)", q.Prompt, q.ID)

	defer func() {
		if slot.timer != nil {
			slot.timer.Stop()
		}
	}()

	select {
	case ans := <-slot.done:
		return ans, nil
	case err := <-slot.fail:
		return Answer{}, err
	case <-ctx.Done():
		b.clearQuestion(slot)
		return Answer{}, ErrInterrupted
	}
}

// AnswerQuestion resolves the pending question. When customText is supplied
// and the question carries a validation pattern, a mismatch surfaces a
// validation error without clearing the slot, so the user can retry.
func (b *Bridge) AnswerQuestion(index int, customText string) error {
	b.mu.Lock()
	slot := b.question
	if slot == nil {
		b.mu.Unlock()
		return ErrNoPending
	}

	if customText == "" && (index < 0 || index >= len(slot.q.Options)) {
		b.mu.Unlock()
		return fmt.Errorf("option index %d out of range (0-%d)", index, len(slot.q.Options)-1)
	}

	if customText != "" && slot.q.Validation != nil {
		re, err := regexp.Compile(slot.q.Validation.Pattern)
		if err == nil && !re.MatchString(customText) {
			b.mu.Unlock()
			msg := slot.q.Validation.Message
			if msg == "" {
				msg = fmt.Sprintf("answer does not match %s", slot.q.Validation.Pattern)
			}
			return fmt.Errorf("validation failed: %s", msg)
		}
	}

	b.question = nil
	b.notifyQuestion(nil)
	b.mu.Unlock()

	if slot.timer != nil {
		slot.timer.Stop()
	}
	if customText != "" {
		index = -1
	}
	slot.done <- Answer{Index: index, CustomText: customText}
	return nil
}

// CancelQuestion rejects the pending question with ErrInterrupted.
func (b *Bridge) CancelQuestion() error {
	b.mu.Lock()
	slot := b.question
	if slot == nil {
		b.mu.Unlock()
		return ErrNoPending
	}
	b.question = nil
	b.notifyQuestion(nil)
	b.mu.Unlock()

	if slot.timer != nil {
		slot.timer.Stop()
	}
	slot.fail <- ErrInterrupted
	return nil
}

func (b *Bridge) clearQuestion(slot *questionSlot) {
	b.mu.Lock()
	if b.question == slot {
		b.question = nil
		b.notifyQuestion(nil)
	}
	b.mu.Unlock()
}
