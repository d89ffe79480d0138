// Package logging provides the structured logger shared by every
// subsystem.
package logging

import "github.com/sirupsen/logrus"

// New returns a text-formatted logrus logger writing to stderr at Info
// level, the server's default logger.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	return log
}
