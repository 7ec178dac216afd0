package server

import (
	logger "github.com/sirupsen/logrus"
)

func testLog() *logger.Entry {
	l := logger.New()
	l.SetLevel(logger.PanicLevel)
	return logger.NewEntry(l)
}
