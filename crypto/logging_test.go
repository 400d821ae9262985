package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewPackageLogger(t *testing.T) {
	tests := []struct {
		name        string
		logger      *LoggerHelper
		expectedFn  string
		expectedPkg string
	}{
		{"crypto default", NewLogger("EncryptPacket"), "EncryptPacket", "crypto"},
		{"empty function", NewLogger(""), "", "crypto"},
		{"noise package", NewPackageLogger("noise", "Upgrade"), "Upgrade", "noise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedFn, tt.logger.fields["function"])
			assert.Equal(t, tt.expectedPkg, tt.logger.fields["package"])
		})
	}
}

func TestLoggerHelperWithError(t *testing.T) {
	err := errors.New("bad tag")
	logger := NewLogger("DecryptPacket").WithError(err, "open")

	assert.Equal(t, err, logger.fields[logrus.ErrorKey])
	assert.Equal(t, "open", logger.fields["stage"])
}

func TestLoggerHelperOutput(t *testing.T) {
	var buf bytes.Buffer
	original := logrus.StandardLogger().Out
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.DebugLevel)
	defer func() {
		logrus.SetOutput(original)
		logrus.SetLevel(logrus.InfoLevel)
	}()

	logger := NewPackageLogger("noise", "Upgrade").WithField("initiator", true)
	logger.Info("upgraded")
	logger.Exit()

	out := buf.String()
	for _, want := range []string{"upgraded", "package=noise", "function=Upgrade", "initiator=true", "noise.Upgrade finished"} {
		assert.Contains(t, out, want)
	}
}

func TestSecureFieldHash(t *testing.T) {
	fields := SecureFieldHash([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, "iv")
	assert.Equal(t, "0102030405060708...", fields["iv_preview"])
	assert.Equal(t, 9, fields["iv_size"])

	short := SecureFieldHash([]byte{0xab}, "iv")
	assert.Equal(t, "ab", short["iv_preview"])

	empty := SecureFieldHash(nil, "iv")
	assert.Equal(t, "nil", empty["iv_preview"])
	assert.Equal(t, 0, empty["iv_size"])
}
