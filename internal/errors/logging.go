package errors

import (
	"github.com/sirupsen/logrus"
)

// Entry decorates base with err. AppErrors also contribute their code,
// retryability and non-sensitive context so log lines can be filtered by code.
func Entry(base logrus.FieldLogger, err error) *logrus.Entry {
	entry := base.WithError(err)

	appErr, ok := As(err)
	if !ok {
		return entry
	}

	fields := logrus.Fields{
		"error_code": appErr.Code,
		"retryable":  appErr.Retryable,
	}
	for k, v := range appErr.Context {
		if !sensitiveContextKeys[k] {
			fields[k] = v
		}
	}
	return entry.WithFields(fields)
}
