package crypto

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

// previewBytes is how much of a secret-adjacent value SecureFieldHash shows.
const previewBytes = 8

// LoggerHelper carries the "package" and "function" fields shared by every
// log line of one operation. Handshake and key-upgrade code paths use it so
// their entries can be filtered by operation.
type LoggerHelper struct {
	function string
	pkg      string
	fields   logrus.Fields
}

// NewLogger returns a helper for a function of this package.
func NewLogger(function string) *LoggerHelper {
	return NewPackageLogger("crypto", function)
}

// NewPackageLogger returns a helper tagged with pkg and function.
func NewPackageLogger(pkg, function string) *LoggerHelper {
	return &LoggerHelper{
		function: function,
		pkg:      pkg,
		fields:   logrus.Fields{"package": pkg, "function": function},
	}
}

// WithField adds one field and returns l.
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields merges fields into l.
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithError records err along with the failing stage of the operation.
func (l *LoggerHelper) WithError(err error, stage string) *LoggerHelper {
	l.fields[logrus.ErrorKey] = err
	l.fields["stage"] = stage
	return l
}

func (l *LoggerHelper) entry() *logrus.Entry {
	return logrus.WithFields(l.fields)
}

// Entry logs the start of an operation at debug level.
func (l *LoggerHelper) Entry(message string) {
	l.entry().Debugf("Starting %s", message)
}

// Exit logs the successful end of the operation at debug level.
func (l *LoggerHelper) Exit() {
	l.entry().Debugf("%s.%s finished", l.pkg, l.function)
}

func (l *LoggerHelper) Debug(message string) { l.entry().Debug(message) }
func (l *LoggerHelper) Info(message string)  { l.entry().Info(message) }
func (l *LoggerHelper) Warn(message string)  { l.entry().Warn(message) }
func (l *LoggerHelper) Error(message string) { l.entry().Error(message) }

// SecureFieldHash returns log fields describing data without revealing it:
// its size and a hex preview of at most the first 8 bytes.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		preview = hex.EncodeToString(data[:min(len(data), previewBytes)])
		if len(data) > previewBytes {
			preview += "..."
		}
	}
	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}
