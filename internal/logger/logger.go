package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[37m"
)

// PrettyFormatter renders a single colored line per entry:
// "15:04:05 LEVEL message key=value ...".
type PrettyFormatter struct {
	// DisableColors strips the ANSI sequences, used when the output is not a terminal.
	DisableColors bool
}

func (f *PrettyFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(entry.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(f.colorizeLevel(entry.Level))
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f.DisableColors {
			fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
			continue
		}
		fmt.Fprintf(&b, " %s%s%s=%v", colorGray, k, colorReset, entry.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *PrettyFormatter) colorizeLevel(level logrus.Level) string {
	var color string
	var name string

	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		color = colorBlue
		name = "DEBUG"
	case logrus.InfoLevel:
		color = colorGreen
		name = "INFO"
	case logrus.WarnLevel:
		color = colorYellow
		name = "WARN"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		color = colorRed
		name = "ERROR"
	default:
		color = colorGray
		name = level.String()
	}

	if f.DisableColors {
		return fmt.Sprintf("%-5s", name)
	}
	return fmt.Sprintf("%s%-5s%s", color, name, colorReset)
}

func NewLogger() *logrus.Logger {
	return New(os.Stdout, logrus.InfoLevel)
}

// NewLoggerWithLevel parses level ("debug", "info", ...) and falls back to
// info when it is empty or unknown.
func NewLoggerWithLevel(level string) *logrus.Logger {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	return New(os.Stdout, lvl)
}

func New(out io.Writer, level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	log.SetFormatter(&PrettyFormatter{DisableColors: out != os.Stdout && out != os.Stderr})
	return log
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	return New(io.Discard, logrus.PanicLevel)
}
