package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/tracking"
)

// ErrDeliveryFailed is returned by Submit when the sink rejected the lead.
// The user may retry.
var ErrDeliveryFailed = errors.New("lead delivery failed")

// Emitter reports the Lead conversion.
type Emitter interface {
	Emit(ctx context.Context, p tracking.Params) string
}

// Receipt is what a successful Submit returns.
type Receipt struct {
	Lead    Lead
	EventID string
}

// Service runs the submit flow: validate, deliver, then report the
// conversion.
type Service struct {
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

func NewService(sink Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{sink: sink, log: log, now: time.Now}
}

// Submit validates and delivers lead. Validation failures come back as
// FieldErrors; sink failures wrap ErrDeliveryFailed. The Lead event is
// emitted only after a successful delivery, and em may be nil.
func (s *Service) Submit(ctx context.Context, lead Lead, em Emitter, userAgent string) (Receipt, error) {
	lead.Normalize()
	if err := lead.Validate(); err != nil {
		return Receipt{}, err
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = s.now().UTC()
	}

	if s.sink != nil {
		if err := s.sink.Deliver(ctx, lead); err != nil {
			s.log.Error("leads: delivery failed", "lead_id", lead.ID, "email", lead.Email, "error", err)
			return Receipt{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}
	s.log.Info("leads: lead captured", "lead_id", lead.ID, "segment", lead.Segment)

	receipt := Receipt{Lead: lead}
	if em != nil {
		receipt.EventID = em.Emit(ctx, tracking.Params{
			EventName: tracking.EventLead,
			Attributes: tracking.Attributes{
				Email:     lead.Email,
				Phone:     lead.Phone,
				FirstName: lead.FirstName(),
				LastName:  lead.LastName(),
			},
			CustomData: tracking.CustomData{
				"content_name": "quiz_fase",
				"segment":      string(lead.Segment),
			}.Merge(lead.UTM.CustomData()),
			SourceURL: lead.SourceURL,
			UserAgent: userAgent,
		})
	}
	return receipt, nil
}
