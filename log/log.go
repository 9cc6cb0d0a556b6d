package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	logFile    *dailyFile
	errorsFile *dailyFile

	// where Logf() prints, in addition to daily log files
	// set to io.Discard to silence e.g. in tests
	Output io.Writer = os.Stdout

	// if true, Verbosef() will log messages
	Verbose bool

	onLog func(s string)
)

// dailyFile appends to ${dir}/YYYY-MM-DD.txt, switching to a new file
// when the (UTC) day changes
type dailyFile struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File
}

func (d *dailyFile) write(s string) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if d.file != nil && d.day != day {
		d.closeLocked()
	}
	if d.file == nil {
		if err := os.MkdirAll(d.dir, 0755); err != nil {
			return err
		}
		path := filepath.Join(d.dir, day+".txt")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		d.file = f
		d.day = day
	}
	_, err := d.file.WriteString(s)
	return err
}

func (d *dailyFile) closeLocked() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Sync()
	if errClose := d.file.Close(); err == nil {
		err = errClose
	}
	d.file = nil
	d.day = ""
	return err
}

func (d *dailyFile) close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

type Config struct {
	// daily log files go to ${Dir}/log, errors also to ${Dir}/errors
	Dir string
	// called for every Logf() call
	OnLog func(s string)
}

// Init enables writing logs to daily files in config.Dir
// without Init we only log to Output
func Init(config *Config) {
	logFile = &dailyFile{dir: filepath.Join(config.Dir, "log")}
	errorsFile = &dailyFile{dir: filepath.Join(config.Dir, "errors")}
	onLog = config.OnLog
}

// Close flushes and closes log files opened since Init
func Close() {
	logFile.close()
	errorsFile.close()
	logFile = nil
	errorsFile = nil
	onLog = nil
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	if Output != nil {
		fmt.Fprint(Output, s)
	}
	logFile.write(s)
	if onLog != nil {
		onLog(s)
	}
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

// callstack returns "file:line" of callers, one per line.
// skip 0 is the caller of callstack.
func callstack(skip int) string {
	var pcs [32]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var lines []string
	for {
		fr, more := frames.Next()
		if fr.File != "" {
			lines = append(lines, fr.File+":"+strconv.Itoa(fr.Line))
		}
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// Errorf logs an error message followed by the callstack.
// Errors also go to the errors log.
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	s = s + callstack(1) + "\n"
	errorsFile.write(s)
	Logf("%s", s)
}
