// Package logging centralizes the logrus setup shared by every core
// component, mirroring the per-component *logrus.Logger injection used
// throughout the ag-ui SDK (pkg/server/pipeline.go, pkg/http/connection_pool.go).
package logging

import "github.com/sirupsen/logrus"

// Named returns a logger to embed in a component. A nil input falls back
// to the shared standard logger so constructors can accept an optional
// *logrus.Logger without a separate nil-check at every call site.
func Named(logger *logrus.Logger, component string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", component)
}
