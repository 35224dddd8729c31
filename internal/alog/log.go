// Package alog provides process-wide loggers for agentty, written to a
// log file under the state directory with a stderr fallback.
package alog

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	Info    *log.Logger
	Warning *log.Logger
	Error   *log.Logger
	Debug   *log.Logger
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

var globalLogFile *os.File

// Initialize opens the log file under stateDir and wires up the
// package-level loggers. Call once at startup; defer Close after.
func Initialize(stateDir string) {
	logPath := filepath.Join(stateDir, "agentty.log")

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		Info = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
		Warning = log.New(os.Stderr, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
		Error = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
		if debugEnabled {
			Debug = log.New(os.Stderr, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
		} else {
			Debug = log.New(io.Discard, "", 0)
		}
		fmt.Fprintf(os.Stderr, "warning: using stderr for logging: %v\n", err)
		return
	}

	Info = log.New(f, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	Warning = log.New(f, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	Error = log.New(f, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	if debugEnabled {
		Debug = log.New(f, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	} else {
		Debug = log.New(io.Discard, "", 0)
	}

	globalLogFile = f
}

func Close() {
	if globalLogFile != nil {
		_ = globalLogFile.Close()
	}
}

// Every rate-limits logging of noisy, periodic conditions.
type Every struct {
	timeout time.Duration
	timer   *time.Timer
}

func NewEvery(timeout time.Duration) *Every {
	return &Every{timeout: timeout}
}

func (e *Every) ShouldLog() bool {
	if e.timer == nil {
		e.timer = time.NewTimer(e.timeout)
		return true
	}

	select {
	case <-e.timer.C:
		e.timer.Reset(e.timeout)
		return true
	default:
		return false
	}
}

func IsDebugEnabled() bool {
	return debugEnabled
}

// SanitizeURL redacts credentials embedded in a URL before logging it.
func SanitizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "[INVALID_URL]"
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword("***", "***")
		} else {
			u.User = url.User("***")
		}
	}

	return u.String()
}

// SanitizeURLs sanitizes every URL-looking token in a free-form message.
func SanitizeURLs(message string) string {
	words := strings.Fields(message)
	for i, word := range words {
		if strings.Contains(word, "://") {
			words[i] = SanitizeURL(word)
		}
	}
	return strings.Join(words, " ")
}
