package js

import (
	"encoding/json"
	"strings"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// console is the console of frame evaluations, implemented as a
// logrus.FieldLogger. What debugger code logs is not part of the recording.
type console struct {
	logger logrus.FieldLogger
}

func newConsole(logger logrus.FieldLogger) *console {
	return &console{logger.WithField("source", "console")}
}

func (c console) log(level logrus.Level, args ...goja.Value) {
	var strs strings.Builder
	for i := 0; i < len(args); i++ {
		if i > 0 {
			strs.WriteString(" ")
		}
		strs.WriteString(c.valueString(args[i]))
	}
	msg := strs.String()

	switch level { //nolint:exhaustive
	case logrus.DebugLevel:
		c.logger.Debug(msg)
	case logrus.InfoLevel:
		c.logger.Info(msg)
	case logrus.WarnLevel:
		c.logger.Warn(msg)
	case logrus.ErrorLevel:
		c.logger.Error(msg)
	}
}

func (c console) Log(args ...goja.Value) {
	c.Info(args...)
}

func (c console) Debug(args ...goja.Value) {
	c.log(logrus.DebugLevel, args...)
}

func (c console) Info(args ...goja.Value) {
	c.log(logrus.InfoLevel, args...)
}

func (c console) Warn(args ...goja.Value) {
	c.log(logrus.WarnLevel, args...)
}

func (c console) Error(args ...goja.Value) {
	c.log(logrus.ErrorLevel, args...)
}

const functionLog = "[object Function]"

func (c console) valueString(v goja.Value) string {
	if _, isFunction := goja.AssertFunction(v); isFunction {
		return functionLog
	}
	if obj, isObj := v.(*goja.Object); isObj {
		if obj.ClassName() == "Error" {
			return v.String()
		}
		b, err := json.Marshal(obj.Export())
		if err == nil {
			return string(b)
		}
	}
	return v.String()
}
