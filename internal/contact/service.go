// Package contact handles messages sent through the portal's contact form.
//
// A submission is validated, stored and then announced to the configured
// notification outputs in the background. Once a message is stored the
// submission has succeeded; notification failures are only logged.
package contact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/output"
	"github.com/quantumportal/quantumportal/internal/quantum"
)

// Submission results reported to the Observer.
const (
	ResultStored  = "stored"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

// Observer is told about submissions and notifications. It may be called
// from any goroutine.
type Observer interface {
	SubmissionHandled(result string)
	NotificationSent(output string, err error)
}

type nopObserver struct{}

func (nopObserver) SubmissionHandled(string)       {}
func (nopObserver) NotificationSent(string, error) {}

// ServiceConfig configures a Service. Store is required.
type ServiceConfig struct {
	Store         Store
	Outputs       *output.Registry
	Retry         RetryConfig
	Breaker       CircuitBreakerConfig
	NotifyTimeout time.Duration // default: 1m, for all outputs of one message
	Logger        *zap.Logger
	Observer      Observer
}

// Service accepts contact form submissions.
type Service struct {
	store         Store
	outputs       *output.Registry
	breakers      map[string]*CircuitBreaker
	retry         RetryConfig
	notifyTimeout time.Duration
	log           *zap.Logger
	observer      Observer
	now           func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("contact service: store is required")
	}
	if cfg.Outputs == nil {
		cfg.Outputs = output.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = time.Minute
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = DefaultCircuitBreakerConfig()
	}

	s := &Service{
		store:         cfg.Store,
		outputs:       cfg.Outputs,
		breakers:      make(map[string]*CircuitBreaker),
		retry:         cfg.Retry,
		notifyTimeout: cfg.NotifyTimeout,
		log:           cfg.Logger,
		observer:      cfg.Observer,
		now:           time.Now,
	}
	for _, name := range cfg.Outputs.Names() {
		s.breakers[name] = NewCircuitBreaker(name, cfg.Breaker, cfg.Logger)
	}
	return s, nil
}

// Submit validates and stores a form sent in lang. It returns a
// *ValidationError for invalid input. Outputs are notified after Submit
// returns.
func (s *Service) Submit(ctx context.Context, f Form, lang quantum.Language) (Submission, error) {
	if err := f.Validate(); err != nil {
		s.observer.SubmissionHandled(ResultInvalid)
		return Submission{}, err
	}
	f = f.Normalize()
	if !lang.Valid() {
		lang = quantum.DefaultLanguage
	}

	sub := Submission{
		ID:        uuid.NewString(),
		Name:      f.Name,
		Email:     f.Email,
		Message:   f.Message,
		Language:  lang,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, sub); err != nil {
		s.observer.SubmissionHandled(ResultFailed)
		s.log.Error("failed to store contact message", zap.Error(err))
		return Submission{}, fmt.Errorf("store contact message: %w", err)
	}
	s.observer.SubmissionHandled(ResultStored)
	s.log.Info("contact message stored",
		zap.String("id", sub.ID),
		zap.String("language", string(lang)))

	s.notifyAsync(sub)
	return sub, nil
}

// Messages returns the newest stored submissions.
func (s *Service) Messages(ctx context.Context, limit int) ([]Submission, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) notifyAsync(sub Submission) {
	if s.outputs.Len() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		s.notify(ctx, sub)
	}()
}

func (s *Service) notify(ctx context.Context, sub Submission) {
	msg := Notification(sub)
	for _, name := range s.outputs.Names() {
		out, ok := s.outputs.Get(name)
		if !ok {
			continue
		}
		breaker := s.breakers[name]
		log := s.log.With(zap.String("output", name), zap.String("id", sub.ID))

		err := Retry(ctx, s.retry, log, func(ctx context.Context) error {
			return breaker.Execute(ctx, func(ctx context.Context) error {
				return out.Send(ctx, msg)
			})
		})
		if err != nil {
			log.Warn("failed to send contact notification", zap.Error(err))
		}
		s.observer.NotificationSent(name, err)
	}
}

// Notification builds the message announcing sub.
func Notification(sub Submission) output.Message {
	return output.Message{
		Subject: "New message from " + sub.Name,
		Text:    sub.Message,
		Fields: []output.Field{
			{Name: "Name", Value: sub.Name},
			{Name: "Email", Value: sub.Email},
			{Name: "Language", Value: string(sub.Language)},
			{Name: "ID", Value: sub.ID},
		},
	}
}

// Close waits for pending notifications, then closes the outputs and the
// store.
func (s *Service) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}

	s.wg.Wait()
	return errors.Join(s.outputs.Close(), s.store.Close())
}
