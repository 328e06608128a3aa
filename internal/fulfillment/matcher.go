package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FindAvailable returns the nurses qualified for the service and free for the
// whole of [windowStart, windowStart+duration), widened by the service's
// travel buffer. An empty result is a normal outcome, not an error. Read-only:
// nothing is reserved and nothing is cached, because availability is only
// valid at the instant it is computed.
func (s *Service) FindAvailable(ctx context.Context, serviceID uuid.UUID, windowStart time.Time, durationMinutes int) ([]Nurse, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidWindow
	}
	if windowStart.Before(time.Now().Add(-s.cfg.SchedulingHorizon)) {
		return nil, ErrInvalidWindow
	}

	svc, err := s.repo.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	windowEnd := windowStart.Add(time.Duration(durationMinutes) * time.Minute)
	start, end := bufferedWindow(windowStart, windowEnd, svc.TravelBufferMinutes)

	nurses, err := s.repo.FindQualifiedFreeNurses(ctx, svc.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query free nurses: %w", err)
	}

	return dedupeNurses(nurses), nil
}

// bufferedWindow widens the visit window on both sides by the service's
// declared nurse-to-nurse travel buffer.
func bufferedWindow(start, end time.Time, bufferMinutes int) (time.Time, time.Time) {
	if bufferMinutes <= 0 {
		return start, end
	}
	buf := time.Duration(bufferMinutes) * time.Minute
	return start.Add(-buf), end.Add(buf)
}

func dedupeNurses(nurses []Nurse) []Nurse {
	seen := make(map[uuid.UUID]struct{}, len(nurses))
	out := nurses[:0]
	for _, n := range nurses {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

// overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any instant.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
