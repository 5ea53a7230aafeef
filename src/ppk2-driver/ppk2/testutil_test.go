package ppk2

import "github.com/sirupsen/logrus"

func newTestLogEntry() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}
