// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// SimpleLogrusHook implements the logrus.Hook interface and keeps every
// entry it is fired with, so tests can check what was logged.
type SimpleLogrusHook struct {
	HookedLevels []logrus.Level
	mutex        sync.Mutex
	messageCache []logrus.Entry
}

var _ logrus.Hook = &SimpleLogrusHook{}

// NewLogHook creates a new SimpleLogrusHook for the given levels. Without
// levels, all of logrus.AllLevels are hooked.
func NewLogHook(levels ...logrus.Level) *SimpleLogrusHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &SimpleLogrusHook{HookedLevels: levels}
}

// Levels returns the hooked levels.
func (smh *SimpleLogrusHook) Levels() []logrus.Level {
	return smh.HookedLevels
}

// Fire stores a copy of the entry.
func (smh *SimpleLogrusHook) Fire(e *logrus.Entry) error {
	smh.mutex.Lock()
	defer smh.mutex.Unlock()
	smh.messageCache = append(smh.messageCache, *e)
	return nil
}

// Drain returns the stored entries and forgets them.
func (smh *SimpleLogrusHook) Drain() []logrus.Entry {
	smh.mutex.Lock()
	defer smh.mutex.Unlock()
	res := smh.messageCache
	smh.messageCache = nil
	return res
}

// Lines drains the stored entries and returns their messages.
func (smh *SimpleLogrusHook) Lines() []string {
	entries := smh.Drain()
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = entry.Message
	}
	return lines
}

// LastEntry returns the last stored entry, or nil.
func (smh *SimpleLogrusHook) LastEntry() *logrus.Entry {
	smh.mutex.Lock()
	defer smh.mutex.Unlock()
	if len(smh.messageCache) == 0 {
		return nil
	}
	entry := smh.messageCache[len(smh.messageCache)-1]
	return &entry
}

// LogContains reports whether any entry has the level and a message
// containing expContents.
func LogContains(logEntries []logrus.Entry, expLevel logrus.Level, expContents string) bool {
	return len(FilterEntries(logEntries, expLevel, expContents)) > 0
}

// FilterEntries returns the entries with the level and a message containing
// expContents.
func FilterEntries(logEntries []logrus.Entry, expLevel logrus.Level, expContents string) []logrus.Entry {
	filtered := make([]logrus.Entry, 0)
	for _, entry := range logEntries {
		if entry.Level == expLevel && strings.Contains(entry.Message, expContents) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
