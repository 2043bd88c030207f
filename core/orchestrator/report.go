package orchestrator

import (
	"context"
	"time"

	"DeckPilot/logger"
	"DeckPilot/model"
)

// ReportSink receives the report of an aborted session.
// *storage.ReportStore implements it.
type ReportSink interface {
	SaveReport(ctx context.Context, r model.SessionReport) (string, error)
}

// LogSink writes reports to the log only.
type LogSink struct{}

func (LogSink) SaveReport(_ context.Context, r model.SessionReport) (string, error) {
	logger.Error("session report",
		logger.String("session", r.SessionID),
		logger.String("phase", string(r.Phase)),
		logger.String("lastAction", r.LastAction),
		logger.Int("tracksPlayed", r.TracksPlayed),
		logger.Any("decks", r.Decks),
		logger.Any("navigation", r.Navigation),
		logger.String("error", r.Error),
		logger.Bool("fatal", r.Fatal))
	return "", nil
}

// MultiSink hands a report to every sink; the first error wins.
type MultiSink []ReportSink

func (m MultiSink) SaveReport(ctx context.Context, r model.SessionReport) (string, error) {
	var (
		names    []string
		firstErr error
	)
	for _, s := range m {
		name, err := s.SaveReport(ctx, r)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		return names[0], firstErr
	}
	return "", firstErr
}

func (o *Orchestrator) buildReport(err error, fatal bool) model.SessionReport {
	snap := o.Snapshot()
	return model.SessionReport{
		SessionID:    snap.Session.ID,
		Phase:        snap.Session.Phase,
		LastAction:   snap.Session.LastAction,
		TracksPlayed: snap.Session.TracksPlayed,
		Decks:        snap.Decks,
		Navigation:   snap.Navigation,
		Error:        err.Error(),
		Fatal:        fatal,
		EndedAt:      snap.At,
	}
}

func (o *Orchestrator) report(ctx context.Context, err error, fatal bool) {
	r := o.buildReport(err, fatal)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, serr := o.reports.SaveReport(ctx, r); serr != nil {
		logger.Error("save session report failed", logger.ErrorField(serr))
	}
}
