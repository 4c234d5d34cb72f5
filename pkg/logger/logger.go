package logger

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

/* Vars */

var (
	logFormatter = &prefixed.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	rotatingLog = &lumberjack.Logger{
		MaxSize:    5,
		MaxBackups: 10,
		MaxAge:     30,
	}
)

/* Public */

// Init configures the global logger. The verbosity level maps to
// info (0), debug (1) and trace (2+). When logFilePath is set, output
// is mirrored to a size-rotated log file.
func Init(logLevel int, logFilePath string) error {
	// formatter
	logrus.SetFormatter(logFormatter)

	// level
	switch logLevel {
	case 0:
		logrus.SetLevel(logrus.InfoLevel)
	case 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.TraceLevel)
	}

	// output(s)
	if logFilePath != "" {
		rotatingLog.Filename = logFilePath
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotatingLog))
	}

	return nil
}

func GetLogger(prefix string) *logrus.Entry {
	if len(prefix) > 0 {
		return logrus.WithFields(logrus.Fields{"prefix": prefix})
	}

	return logrus.WithFields(logrus.Fields{})
}
