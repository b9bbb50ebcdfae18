package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/session"
)

// Sessions returns every committed session in commit order, oldest first.
// Malformed records are quarantined and skipped.
func (b *Bank) Sessions(ctx context.Context) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	paths, err := b.listSessionPaths()
	if err != nil {
		return nil, err
	}

	sessions := make([]*session.Session, 0, len(paths))
	for _, path := range paths {
		rec, loadErr := loadRecord(path)
		if loadErr != nil {
			b.quarantine(ctx, path, loadErr)
			continue
		}
		sessions = append(sessions, rec.Session)
	}
	return sessions, nil
}

// Session returns one committed session by id.
func (b *Bank) Session(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := b.sessionPath(id)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, loadErr := loadRecord(path)
	if loadErr != nil {
		if errors.Is(loadErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		b.quarantine(ctx, path, loadErr)
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return rec.Session, nil
}

// AttachEvaluation adds an advisory evaluation to an already committed
// session record. The committed insights and state are left untouched.
func (b *Bank) AttachEvaluation(ctx context.Context, id string, ev session.Evaluation) error {
	if b.readOnly {
		return ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := b.sessionPath(id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec, loadErr := loadRecord(path)
	if loadErr != nil {
		if errors.Is(loadErr, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return writeErr("load session record", path, loadErr)
	}

	attached := ev
	attached.Suggestions = append([]string(nil), ev.Suggestions...)
	rec.Session.Evaluation = &attached
	rec.SavedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return writeErr("encode session record", path, err)
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return writeErr("write session record", path, err)
	}

	b.logger.Debug(ctx, "evaluation attached",
		zap.String("session_id", id),
		zap.String("grade", ev.Grade))
	return nil
}

// Patterns returns recurring patterns whose decayed support clears the
// floor, strongest first. minSupport below 1 is treated as 1.
func (b *Bank) Patterns(ctx context.Context, minSupport int) ([]Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if minSupport < 1 {
		minSupport = 1
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	pf, err := loadPatterns(b.patternsPath())
	if err != nil {
		if _, statErr := os.Stat(b.patternsPath()); statErr == nil {
			b.quarantine(ctx, b.patternsPath(), err)
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	halfLife := b.cfg.DecayHalfLife.Duration()

	patterns := make([]Pattern, 0, len(pf.Patterns))
	for _, p := range pf.Patterns {
		p.EffectiveSupport = decayedSupport(p.Support, now.Sub(p.LastSeen), halfLife)
		if p.EffectiveSupport < float64(minSupport) {
			continue
		}
		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].EffectiveSupport != patterns[j].EffectiveSupport {
			return patterns[i].EffectiveSupport > patterns[j].EffectiveSupport
		}
		if !patterns[i].LastSeen.Equal(patterns[j].LastSeen) {
			return patterns[i].LastSeen.After(patterns[j].LastSeen)
		}
		return patterns[i].Key < patterns[j].Key
	})
	return patterns, nil
}

// decayedSupport halves raw support for every half-life elapsed since the
// pattern was last observed. Future timestamps decay as zero age.
func decayedSupport(support int, age, halfLife time.Duration) float64 {
	if support <= 0 {
		return 0
	}
	if halfLife <= 0 || age <= 0 {
		return float64(support)
	}
	return float64(support) * math.Exp2(-age.Hours()/halfLife.Hours())
}
