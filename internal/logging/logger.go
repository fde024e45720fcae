package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if os.Getenv("LOG_LEVEL") == "debug" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

var (
	LND      = root.WithField("subsystem", "lnd")
	Peers    = root.WithField("subsystem", "peers")
	Channels = root.WithField("subsystem", "channels")
	Invoices = root.WithField("subsystem", "invoices")
	LNbits   = root.WithField("subsystem", "lnbits")
	HTTP     = root.WithField("subsystem", "http")
	Internal = root.WithField("subsystem", "internal")
)
