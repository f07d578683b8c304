// Package heal watches for known failure signatures in bus state and
// the daemon log, and attempts bounded automated remediation. Each
// signature has a cooldown so a persistent fault is retried, not
// hammered. Unrecognized failures go to the reasoning backend for a
// suggested fix, and failing that, to the user.
package heal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/llm"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/speech"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// signatureCooldown is the minimum time between remediation attempts
// for the same signature.
const signatureCooldown = 5 * time.Minute

// logTailBytes bounds how much of the log file each scan reads.
const logTailBytes = 64 * 1024

// Rule matches one known failure signature to a remediation command.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Remedy  string // shell command
}

// DefaultRules covers the failures seen most often in the field.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "ollama-down",
			Pattern: regexp.MustCompile(`(?i)ollama.*(connection refused|no such host|EOF)`),
			Remedy:  "systemctl restart ollama || ollama serve >/dev/null 2>&1 &",
		},
		{
			Name:    "camera-busy",
			Pattern: regexp.MustCompile(`(?i)(/dev/video\d+).*(busy|cannot open)`),
			Remedy:  "fuser -k /dev/video0 2>/dev/null; sleep 1",
		},
		{
			Name:    "tmp-full",
			Pattern: regexp.MustCompile(`(?i)no space left on device`),
			Remedy:  "find /tmp -maxdepth 1 -name 'maxd-*' -mmin +60 -delete",
		},
		{
			Name:    "detect-service-down",
			Pattern: regexp.MustCompile(`(?i)detection (request|service).*(refused|timeout|error 5\d\d)`),
			Remedy:  "systemctl restart maxd-detect 2>/dev/null || true",
		},
	}
}

const fixPrompt = `You are the self-repair module of Max, a home assistant daemon on Linux.
Given an error, reply with exactly one line:
FIX_APPLIED: <a single safe shell command that likely fixes it>
or, if no safe automated fix exists:
NOTIFY: <one short sentence telling the user what is wrong>`

// Monitor is the resilience worker.
type Monitor struct {
	bus     *statebus.Bus
	client  llm.Client
	speaker speech.Speaker
	rules   []Rule
	logFile string
	logger  *slog.Logger

	// Owned by the single heal worker.
	lastAttempt map[string]time.Time
	logOffset   int64

	now func() time.Time // test hook

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, command string) error
}

// NewMonitor creates a monitor using the default rule set.
func NewMonitor(bus *statebus.Bus, client llm.Client, speaker speech.Speaker, logFile string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if speaker == nil {
		speaker = speech.Null{}
	}
	return &Monitor{
		bus:         bus,
		client:      client,
		speaker:     speaker,
		rules:       DefaultRules(),
		logFile:     logFile,
		logger:      logger,
		lastAttempt: map[string]time.Time{},
		now:         time.Now,
		runCommand:  runShell,
	}
}

func runShell(ctx context.Context, command string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Scan runs one monitoring pass. Intended as a worker tick body.
func (m *Monitor) Scan(ctx context.Context) error {
	m.pruneAttempts()
	for _, errText := range m.collectErrors() {
		m.handle(ctx, errText)
	}
	return nil
}

// pruneAttempts drops attempt records old enough that the cooldown no
// longer applies, keeping the map bounded across long uptimes.
func (m *Monitor) pruneAttempts() {
	cutoff := m.now().Add(-2 * signatureCooldown)
	for key, at := range m.lastAttempt {
		if at.Before(cutoff) {
			delete(m.lastAttempt, key)
		}
	}
}

// collectErrors gathers error strings from bus payloads and new log
// lines since the previous scan.
func (m *Monitor) collectErrors() []string {
	var found []string
	for topic, payload := range m.bus.GetAll() {
		if errText, _ := payload["error"].(string); errText != "" {
			found = append(found, fmt.Sprintf("%s: %s", topic, errText))
		}
		if errs, ok := payload["errors"].([]any); ok {
			for _, e := range errs {
				found = append(found, fmt.Sprintf("%s: %v", topic, e))
			}
		}
	}
	found = append(found, m.tailLogErrors()...)
	return found
}

// tailLogErrors reads log lines appended since the last scan and
// keeps the ERROR ones. A truncated or rotated file restarts from the
// beginning.
func (m *Monitor) tailLogErrors() []string {
	if m.logFile == "" {
		return nil
	}
	f, err := os.Open(m.logFile)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	size := info.Size()
	if size < m.logOffset {
		m.logOffset = 0
	}
	start := m.logOffset
	if size-start > logTailBytes {
		start = size - logTailBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil
	}
	m.logOffset = size

	var found []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "ERROR") || strings.Contains(line, "level=ERROR") {
			found = append(found, strings.TrimSpace(line))
		}
	}
	return found
}

func (m *Monitor) handle(ctx context.Context, errText string) {
	for _, rule := range m.rules {
		if !rule.Pattern.MatchString(errText) {
			continue
		}
		if !m.cooledDown(rule.Name) {
			m.logger.Debug("signature in cooldown", "signature", rule.Name)
			return
		}
		m.lastAttempt[rule.Name] = m.now()
		m.logger.Warn("applying remediation", "signature", rule.Name, "error", errText)
		if err := m.runCommand(ctx, rule.Remedy); err != nil {
			m.logger.Error("remediation failed", "signature", rule.Name, "error", err)
			m.speaker.Speak(fmt.Sprintf("I tried to fix a %s problem but it didn't work.", rule.Name))
		}
		return
	}
	m.handleUnknown(ctx, errText)
}

// handleUnknown asks the backend for a one-shot fix, cooldown-keyed by
// a normalized form of the error text so the same unknown failure is
// not retried in a loop.
func (m *Monitor) handleUnknown(ctx context.Context, errText string) {
	key := unknownKey(errText)
	if !m.cooledDown(key) {
		return
	}
	m.lastAttempt[key] = m.now()

	if m.client == nil {
		m.speaker.Speak("Something went wrong: " + errText)
		return
	}

	resp, err := m.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: fixPrompt},
		{Role: "user", Content: errText},
	}, nil)
	if err != nil {
		m.logger.Error("fix consult failed", "error", err)
		return
	}

	reply := strings.TrimSpace(resp.Content)
	switch {
	case strings.HasPrefix(reply, "FIX_APPLIED:"):
		command := strings.TrimSpace(strings.TrimPrefix(reply, "FIX_APPLIED:"))
		m.logger.Warn("applying suggested fix", "command", command, "error", errText)
		if err := m.runCommand(ctx, command); err != nil {
			m.logger.Error("suggested fix failed", "error", err)
		}
	case strings.HasPrefix(reply, "NOTIFY:"):
		m.speaker.Speak(strings.TrimSpace(strings.TrimPrefix(reply, "NOTIFY:")))
	default:
		m.logger.Debug("unusable fix reply", "reply", reply)
	}
}

// unknownKey normalizes an error into a cooldown key. Log-sourced
// lines start with a timestamp, so keying on the raw text would make
// every occurrence look fresh; drop everything before the message and
// truncate.
func unknownKey(errText string) string {
	s := errText
	if i := strings.Index(s, "msg="); i >= 0 {
		s = s[i:]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return "unknown:" + s
}

func (m *Monitor) cooledDown(key string) bool {
	last, ok := m.lastAttempt[key]
	return !ok || m.now().Sub(last) >= signatureCooldown
}
