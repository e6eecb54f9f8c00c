// Package logger provides the structured logging used across the quoting
// engine: logrus entries tagged with a component field, warn/error counters
// feeding the periodic runtime report, and CloudWatch metric publication.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields carries structured log fields.
type Fields map[string]interface{}

// Log is the process-wide logger. Components derive tagged entries from it
// via WithComponent.
type Log struct {
	*logrus.Logger
}

// Entry is a logrus entry whose Warn and Error calls also feed the
// per-component counters surfaced by the runtime report.
type Entry struct {
	*logrus.Entry
}

var globalLogger *Log

func init() {
	globalLogger = Logger()
}

// Logger builds a fresh logger with the default JSON formatter and the
// level taken from LOG_LEVEL (info when unset). "report" is not a logrus
// level; it selects info logging plus the periodic runtime report, which
// main enables separately.
func Logger() *Log {
	l := logrus.New()
	l.SetReportCaller(true)
	l.SetLevel(parseLevel(envLevel("info")))
	l.SetFormatter(jsonFormatter())
	l.AddHook(&callerHook{})
	return &Log{Logger: l}
}

// GetLogger returns the shared process logger.
func GetLogger() *Log {
	return globalLogger
}

func envLevel(fallback string) string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return fallback
}

func parseLevel(level string) logrus.Level {
	if level == "report" {
		return logrus.InfoLevel
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		return lvl
	}
	return logrus.InfoLevel
}

func prettyCaller(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: prettyCaller,
	}
}

// Configure applies the logging section of the config file. LOG_LEVEL
// still wins over the configured level so a deployment can turn on debug
// logging without editing the file.
func (l *Log) Configure(level string, format string, output string, maxAge int) error {
	level = strings.ToLower(envLevel(level))
	if level != "report" {
		if _, err := logrus.ParseLevel(level); err != nil {
			return fmt.Errorf("invalid log level '%s'", level)
		}
	}
	l.SetLevel(parseLevel(level))
	l.SetReportCaller(true)

	switch format {
	case "json":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyCaller,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if maxAge > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAge,
				MaxSize:  100,
				Compress: true,
			})
		} else {
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				return fmt.Errorf("failed to open log file '%s': %w", output, err)
			}
			l.SetOutput(file)
		}
	}
	return nil
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) Info(args ...interface{}) {
	e.Entry.Info(args...)
}

func (e *Entry) Debug(args ...interface{}) {
	e.Entry.Debug(args...)
}

// Warn logs at warn level and counts the event against the entry's
// component class for the runtime report.
func (e *Entry) Warn(args ...interface{}) {
	if counter := warnCounter(e.component()); counter != nil {
		atomic.AddInt64(counter, 1)
	}
	e.Entry.Warn(args...)
}

// Error logs at error level and counts the event against the entry's
// component class for the runtime report.
func (e *Entry) Error(args ...interface{}) {
	if counter := errorCounter(e.component()); counter != nil {
		atomic.AddInt64(counter, 1)
	}
	e.Entry.Error(args...)
}

func (e *Entry) component() string {
	component, _ := e.Entry.Data["component"].(string)
	return component
}

// warnCounter maps a component to the report counter tracking its warns.
// The report splits on the two failure domains that matter operationally:
// the data feeds and the order gateway.
func warnCounter(component string) *int64 {
	switch {
	case strings.Contains(component, "feed"):
		return &warnsFeed
	case strings.Contains(component, "gateway"):
		return &warnsGateway
	}
	return nil
}

func errorCounter(component string) *int64 {
	switch {
	case strings.Contains(component, "feed"):
		return &errorsFeed
	case strings.Contains(component, "gateway"):
		return &errorsGateway
	}
	return nil
}

// LogMetric emits a structured metric log line and mirrors numeric values
// to CloudWatch with the component and any string fields as dimensions.
func (e *Entry) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	if fields == nil {
		fields = make(Fields)
	}
	if metricType == "" {
		metricType = "counter"
	}
	fields["metric"] = metric
	fields["value"] = value
	fields["metric_type"] = metricType

	e.WithComponent(component).WithFields(fields).Info("metric")

	val, ok := metricValue(value)
	if !ok {
		return
	}
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
	for k, v := range fields {
		if k == "metric" || k == "metric_type" || k == "value" {
			continue
		}
		if s, ok := v.(string); ok {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	publishMetrics(context.Background(), []cwtypes.MetricDatum{{
		MetricName: aws.String(metric),
		Dimensions: dims,
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(val),
	}})
}

func metricValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// LogPerformanceEntry records the duration of one operation, used by the
// gateway to time exchange round-trips.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	if fields == nil {
		fields = make(Fields)
	}
	fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	fields["operation"] = operation

	entry.WithFields(fields).WithComponent(component).Info("performance metric")
}

// LogDataFlowEntry records a record count crossing a pipeline boundary,
// such as a depth snapshot entering the market channel or a fill batch
// landing in S3.
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	entry.WithFields(Fields{
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
		"flow_type":    "data_flow",
	}).Info("data flow metric")
}
