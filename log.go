// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"os"

	"github.com/charmbracelet/log"
)

func defaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "dataplane",
		Level:  log.InfoLevel,
	})
}

// NewLogger returns a stderr logger at level ("debug", "info", "warn",
// "error"). An empty level means info.
func NewLogger(level string) (*log.Logger, error) {
	l := defaultLogger()
	if level == "" {
		return l, nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)
	return l, nil
}
