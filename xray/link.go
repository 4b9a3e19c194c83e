package xray

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/storytest/logger"
)

// Linker creates the tracker link from a test to the story it covers
type Linker interface {
	CreateTestLink(ctx context.Context, testKey, storyKey string) error
}

// LinkReport summarises a batch of link attempts
type LinkReport struct {
	Attempted int      `json:"attempted"`
	Linked    []string `json:"linked"`
	Failed    []string `json:"failed"`
}

// Reconciler links imported tests back to their story. Failures are logged
// and reported, never returned as errors.
type Reconciler struct {
	linker Linker
	logger *zap.SugaredLogger
}

// NewReconciler creates a reconciler; a nil linker disables linking
func NewReconciler(linker Linker, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{linker: linker, logger: logger.OrNop(log)}
}

// Link creates one link and reports whether it succeeded
func (r *Reconciler) Link(ctx context.Context, testKey, storyKey string) bool {
	if r.linker == nil {
		return false
	}
	if err := r.linker.CreateTestLink(ctx, testKey, storyKey); err != nil {
		r.logger.Warnw("Failed to link test to story",
			logger.FieldTestKey, testKey,
			logger.FieldStoryKey, storyKey,
			logger.FieldError, err)
		return false
	}
	r.logger.Infow("Linked test to story",
		logger.FieldTestKey, testKey,
		logger.FieldStoryKey, storyKey)
	return true
}

// LinkAll links every key to storyKey in order
func (r *Reconciler) LinkAll(ctx context.Context, keys []string, storyKey string) LinkReport {
	report := LinkReport{Linked: []string{}, Failed: []string{}}
	if storyKey == "" || len(keys) == 0 {
		return report
	}
	if r.linker == nil {
		r.logger.Warnw("Linking disabled; tests left unlinked",
			logger.FieldStoryKey, storyKey,
			logger.FieldCount, len(keys))
		return report
	}

	for _, key := range keys {
		report.Attempted++
		if r.Link(ctx, key, storyKey) {
			report.Linked = append(report.Linked, key)
		} else {
			report.Failed = append(report.Failed, key)
		}
	}
	return report
}
