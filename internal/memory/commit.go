package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/session"
)

// Commit persists a completed session: pattern counts are merged first,
// the insight log is appended, and the session record is written last so
// its presence marks a finished commit. Re-committing an already stored
// session is a no-op, which makes delivery at-least-once safe.
func (b *Bank) Commit(ctx context.Context, sess *session.Session) error {
	if b.readOnly {
		return ErrReadOnly
	}
	if sess == nil {
		return errors.New("nil session")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := b.sessionPath(sess.ID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, statErr := os.Stat(path); statErr == nil {
		b.logger.Debug(ctx, "session already committed",
			zap.String("session_id", sess.ID))
		return nil
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return writeErr("stat session record", path, statErr)
	}

	now := time.Now().UTC()
	stored := sess.Clone()

	if err := b.mergePatterns(stored, now); err != nil {
		return err
	}
	if err := b.appendLog(stored, now); err != nil {
		return err
	}

	rec := sessionRecord{
		Version: recordVersion,
		SavedAt: now,
		Session: stored,
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return writeErr("encode session record", path, err)
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return writeErr("write session record", path, err)
	}

	if b.commitsTotal != nil {
		b.commitsTotal.Add(ctx, 1)
	}
	b.logger.Info(ctx, "session committed to memory bank",
		zap.String("session_id", stored.ID),
		zap.String("dataset", stored.Dataset),
		zap.Int("insights", len(stored.Insights)))
	return nil
}

// mergePatterns folds the session's keyed insights into patterns.json.
// Support counts one observation per key per session.
func (b *Bank) mergePatterns(sess *session.Session, now time.Time) error {
	keys := make(map[string]string)
	for _, ins := range sess.Insights {
		if ins.PatternKey == "" {
			continue
		}
		if _, seen := keys[ins.PatternKey]; !seen {
			keys[ins.PatternKey] = ins.Text
		}
	}
	if len(keys) == 0 {
		return nil
	}

	path := b.patternsPath()
	pf, err := loadPatterns(path)
	if err != nil {
		return writeErr("load patterns", path, err)
	}

	for key, desc := range keys {
		p, ok := pf.Patterns[key]
		if !ok {
			p = Pattern{Key: key, FirstSeen: now}
		}
		p.Support++
		p.LastSeen = now
		p.Description = desc
		pf.Patterns[key] = p
	}

	raw, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return writeErr("encode patterns", path, err)
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return writeErr("write patterns", path, err)
	}
	return nil
}

func loadPatterns(path string) (*patternsFile, error) {
	pf := &patternsFile{
		Version:  patternsVersion,
		Patterns: make(map[string]Pattern),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return pf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, pf); err != nil {
		return nil, fmt.Errorf("decode patterns: %w", err)
	}
	if pf.Version != patternsVersion {
		return nil, fmt.Errorf("unsupported patterns version %d", pf.Version)
	}
	if pf.Patterns == nil {
		pf.Patterns = make(map[string]Pattern)
	}
	return pf, nil
}

// appendLog adds one NDJSON line to the append-only insight log.
func (b *Bank) appendLog(sess *session.Session, now time.Time) error {
	entry := LogEntry{
		SessionID:   sess.ID,
		Dataset:     sess.Dataset,
		CommittedAt: now,
		Insights:    sess.Insights,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return writeErr("encode log entry", b.logPath(), err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(b.logPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return writeErr("open insight log", b.logPath(), err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return writeErr("append insight log", b.logPath(), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return writeErr("sync insight log", b.logPath(), err)
	}
	if err := f.Close(); err != nil {
		return writeErr("close insight log", b.logPath(), err)
	}
	return nil
}
